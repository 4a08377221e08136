package executor

import (
	"fmt"
	"os"
	"sort"
)

// dirSnapshot is the set of entry names in a package directory.
type dirSnapshot map[string]struct{}

func snapshotDir(dir string) (dirSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", dir, err)
	}
	snap := make(dirSnapshot, len(entries))
	for _, e := range entries {
		snap[e.Name()] = struct{}{}
	}
	return snap, nil
}

// diff reports entries created and removed between s and after, sorted.
func (s dirSnapshot) diff(after dirSnapshot) (added, removed []string) {
	for name := range after {
		if _, ok := s[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range s {
		if _, ok := after[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// envChangeMessage describes a diff, or returns "" when nothing changed.
func envChangeMessage(added, removed []string) string {
	switch {
	case len(added) == 0 && len(removed) == 0:
		return ""
	case len(removed) == 0:
		return fmt.Sprintf("created %v", added)
	case len(added) == 0:
		return fmt.Sprintf("removed %v", removed)
	default:
		return fmt.Sprintf("created %v, removed %v", added, removed)
	}
}
