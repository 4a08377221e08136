package testlist

import (
	"errors"
	"fmt"
	"go/ast"
	"go/doc"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// ErrNoUnits is returned when a units file lists nothing to run.
var ErrNoUnits = errors.New("no units to run")

// ResolvePackageDir maps a unit (a Go package path, either relative like
// "./pkg/foo" or a full import path inside the module rooted at workDir) to
// its directory on disk.
func ResolvePackageDir(unit string, workDir string) (string, error) {
	var relPath string

	if unit == "." || strings.HasPrefix(unit, "./") {
		relPath = strings.TrimPrefix(unit, "./")
	} else {
		moduleName, err := ModulePath(workDir)
		if err != nil {
			return "", err
		}

		if unit != moduleName && !strings.HasPrefix(unit, moduleName+"/") {
			return "", fmt.Errorf("package %s is not in module %s", unit, moduleName)
		}

		relPath = strings.TrimPrefix(strings.TrimPrefix(unit, moduleName), "/")
		if relPath == "" {
			relPath = "."
		}
	}

	pkgDir := filepath.Join(workDir, relPath)
	info, err := os.Stat(pkgDir)
	if err != nil {
		return "", fmt.Errorf("failed to stat package directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", pkgDir)
	}
	return pkgDir, nil
}

// ModulePath reads the module path from workDir/go.mod.
func ModulePath(workDir string) (string, error) {
	goModPath := filepath.Join(workDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	return modFile.Module.Mod.Path, nil
}

// FindTestFunctions returns the names of the functions go test runs by
// default in the package directory pkgDir: tests, fuzz targets (which run
// their seed corpus) and examples with an output comment. Benchmarks only
// run with -bench and are not listed.
func FindTestFunctions(pkgDir string) ([]string, error) {
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var testFunctions []string
	fset := token.NewFileSet()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		filePath := filepath.Join(pkgDir, entry.Name())
		f, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}

		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil {
				continue
			}

			name := funcDecl.Name.Name
			// TestMain is a harness, not a test
			if name == "TestMain" {
				continue
			}
			if isTestName(name, "Test") || isTestName(name, "Fuzz") {
				testFunctions = append(testFunctions, name)
			}
		}

		for _, ex := range doc.Examples(f) {
			if ex.Output != "" || ex.EmptyOutput {
				testFunctions = append(testFunctions, "Example"+ex.Name)
			}
		}
	}

	return testFunctions, nil
}

// isTestName follows go test's rule: name starts with prefix and the rest
// does not start with a lower-case letter, so TestFoo and Test_foo count
// but Testify does not.
func isTestName(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) == len(prefix) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return !unicode.IsLower(r)
}

// FindTestPackages walks root (optionally suffixed with "/...") and returns
// every directory holding a _test.go file, relative to workDir and prefixed
// with "./".
func FindTestPackages(root string, workDir string) ([]string, error) {
	root = strings.TrimSuffix(root, "/...")
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory %s does not exist", root)
		}
		return nil, err
	}

	seen := make(map[string]struct{})
	var packages []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), "_test.go") {
			return nil
		}

		dir := filepath.Dir(path)
		if _, ok := seen[dir]; ok {
			return nil
		}
		seen[dir] = struct{}{}

		rel, err := filepath.Rel(workDir, dir)
		if err != nil {
			return err
		}
		if rel == "." {
			packages = append(packages, ".")
		} else {
			packages = append(packages, "./"+filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return packages, nil
}

// UnitsFile is the on-disk list of units to run.
//
//	units:
//	  - ./pkg/a
//	  - github.com/org/repo/pkg/b
//	exclude:
//	  - ./pkg/a/slow
type UnitsFile struct {
	Units   []string `yaml:"units"`
	Exclude []string `yaml:"exclude"`
}

// LoadUnitsFile reads a units file and returns its units in file order,
// without duplicates or excluded entries.
func LoadUnitsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read units file: %w", err)
	}

	var file UnitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse units file %s: %w", path, err)
	}

	units := Filter(file.Units, file.Exclude)
	if len(units) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoUnits)
	}
	return units, nil
}

// Filter drops blanks, duplicates and excluded units, keeping the first
// occurrence order.
func Filter(units []string, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude)+len(units))
	for _, u := range exclude {
		skip[strings.TrimSpace(u)] = struct{}{}
	}

	out := make([]string, 0, len(units))
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := skip[u]; ok {
			continue
		}
		skip[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
