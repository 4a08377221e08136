package runner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// formatProgressLine renders "H:MM:SS [ idx/total/bad] text". The bad
// counter only appears once something failed.
func formatProgressLine(elapsed time.Duration, index, total, bad int, pgo bool, text string) string {
	width := len(strconv.Itoa(total))
	counter := fmt.Sprintf("%*d/%d", width, index, total)
	if bad > 0 && !pgo {
		counter += fmt.Sprintf("/%d", bad)
	}
	return fmt.Sprintf("%s [%s] %s", formatElapsed(elapsed), counter, text)
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.0f sec", d.Seconds())
}

// runningUnits lists the units that have been in flight for at least
// threshold, longest first.
func runningUnits(workers []*Worker, threshold time.Duration, now time.Time) []string {
	type running struct {
		unit    string
		elapsed time.Duration
	}

	var slow []running
	for _, w := range workers {
		unit, start, ok := w.Current()
		if !ok {
			continue
		}
		if elapsed := now.Sub(start); elapsed >= threshold {
			slow = append(slow, running{unit: unit, elapsed: elapsed})
		}
	}

	sort.SliceStable(slow, func(i, j int) bool {
		return slow[i].elapsed > slow[j].elapsed
	})

	out := make([]string, 0, len(slow))
	for _, r := range slow {
		out = append(out, fmt.Sprintf("%s (%s)", r.unit, formatSeconds(r.elapsed)))
	}
	return out
}

// inFlightUnits lists every unit currently owned by a worker, with the
// worker's state.
func inFlightUnits(workers []*Worker) []string {
	var out []string
	for _, w := range workers {
		if unit, _, ok := w.Current(); ok {
			out = append(out, fmt.Sprintf("%s (%s)", unit, w.State()))
		}
	}
	return out
}

func joinUnits(units []string) string {
	return strings.Join(units, ", ")
}
