package testlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testModule = "module github.com/test/module\n\ngo 1.21\n"

func TestResolvePackageDir(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected string
	}{
		{name: "relative path", unit: "./pkg/a", expected: "pkg/a"},
		{name: "module path", unit: "github.com/test/module/pkg/a", expected: "pkg/a"},
		{name: "module root", unit: "github.com/test/module", expected: "."},
		{name: "dot", unit: ".", expected: "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte(testModule), 0644))
			require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "pkg", "a"), 0755))

			dir, err := ResolvePackageDir(tt.unit, tmpDir)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(tmpDir, tt.expected), dir)
		})
	}
}

func TestResolvePackageDirErrors(t *testing.T) {
	tests := []struct {
		name    string
		unit    string
		setup   func(string) error
		wantErr string
	}{
		{
			name:    "missing go.mod for module path",
			unit:    "github.com/test/module/pkg",
			wantErr: "failed to read go.mod",
		},
		{
			name: "invalid go.mod",
			unit: "github.com/test/module/pkg",
			setup: func(dir string) error {
				return os.WriteFile(filepath.Join(dir, "go.mod"), []byte("invalid content"), 0644)
			},
			wantErr: "failed to parse go.mod",
		},
		{
			name: "package not in module",
			unit: "github.com/other/module/pkg",
			setup: func(dir string) error {
				return os.WriteFile(filepath.Join(dir, "go.mod"), []byte(testModule), 0644)
			},
			wantErr: "package github.com/other/module/pkg is not in module github.com/test/module",
		},
		{
			name: "module name prefix is not a parent",
			unit: "github.com/test/modulette",
			setup: func(dir string) error {
				return os.WriteFile(filepath.Join(dir, "go.mod"), []byte(testModule), 0644)
			},
			wantErr: "is not in module",
		},
		{
			name:    "relative path not found",
			unit:    "./nonexistent",
			wantErr: "failed to stat package directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if tt.setup != nil {
				require.NoError(t, tt.setup(tmpDir))
			}

			_, err := ResolvePackageDir(tt.unit, tmpDir)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindTestFunctions(t *testing.T) {
	pkgDir := t.TempDir()
	require.NoError(t, createTestFiles(pkgDir))

	testFuncs, err := FindTestFunctions(pkgDir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"TestNormal", "TestAnother", "TestWithMain", "TestWithBenchmark",
		"Test_underscore", "FuzzParse", "ExampleOutput", "ExampleEmptyOutput",
	}, testFuncs)
}

func TestFindTestFunctionsExamplesOnly(t *testing.T) {
	pkgDir := t.TempDir()
	content := `package pkg

import "fmt"

func ExampleHello() {
	fmt.Println("hello")
	// Output: hello
}
`
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "example_test.go"), []byte(content), 0644))

	testFuncs, err := FindTestFunctions(pkgDir)
	require.NoError(t, err)
	require.Equal(t, []string{"ExampleHello"}, testFuncs, "a package with only runnable examples is not empty")
}

func TestIsTestName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   bool
	}{
		{"Test", "Test", true},
		{"TestFoo", "Test", true},
		{"Test_foo", "Test", true},
		{"Test1", "Test", true},
		{"Testify", "Test", false},
		{"Testéclair", "Test", false},
		{"FuzzParse", "Fuzz", true},
		{"Fuzzy", "Fuzz", false},
		{"helperTest", "Test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isTestName(tt.name, tt.prefix))
		})
	}
}

func TestFindTestFunctionsNoTests(t *testing.T) {
	pkgDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "lib.go"), []byte("package lib\n"), 0644))

	testFuncs, err := FindTestFunctions(pkgDir)
	require.NoError(t, err)
	require.Empty(t, testFuncs)
}

func TestFindTestPackages(t *testing.T) {
	tmpDir := t.TempDir()

	// tmpDir/
	//   ├── pkg1/pkg1_test.go
	//   ├── pkg2/pkg2_test.go
	//   ├── subdir/pkg3/pkg3_test.go
	//   ├── testdata/ignored_test.go
	//   └── regular_file.go
	pkg1Dir := filepath.Join(tmpDir, "pkg1")
	pkg2Dir := filepath.Join(tmpDir, "pkg2")
	pkg3Dir := filepath.Join(tmpDir, "subdir", "pkg3")
	dataDir := filepath.Join(tmpDir, "testdata")

	for _, dir := range []string{pkg1Dir, pkg2Dir, pkg3Dir, dataDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	testContent := `package test
import "testing"
func TestExample(t *testing.T) {}
`
	require.NoError(t, os.WriteFile(filepath.Join(pkg1Dir, "pkg1_test.go"), []byte(testContent), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg1Dir, "more_test.go"), []byte(testContent), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg2Dir, "pkg2_test.go"), []byte(testContent), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg3Dir, "pkg3_test.go"), []byte(testContent), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "ignored_test.go"), []byte(testContent), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "regular_file.go"), []byte("package main"), 0644))

	packages, err := FindTestPackages(tmpDir, tmpDir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"./pkg1", "./pkg2", "./subdir/pkg3"}, packages)

	packages, err = FindTestPackages(tmpDir+"/...", tmpDir)
	require.NoError(t, err)
	require.Len(t, packages, 3)
}

func TestFindTestPackagesNonExistent(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := FindTestPackages(filepath.Join(tmpDir, "nonexistent"), tmpDir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestLoadUnitsFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "units.yaml")
	content := `units:
  - ./pkg/a
  - ./pkg/b
  - ./pkg/a
  - "  "
  - ./pkg/slow
  - github.com/test/module/pkg/c
exclude:
  - ./pkg/slow
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	units, err := LoadUnitsFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"./pkg/a", "./pkg/b", "github.com/test/module/pkg/c"}, units)
}

func TestLoadUnitsFileErrors(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := LoadUnitsFile(filepath.Join(tmpDir, "missing.yaml"))
	require.ErrorContains(t, err, "failed to read units file")

	bad := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("units: [unterminated"), 0644))
	_, err = LoadUnitsFile(bad)
	require.ErrorContains(t, err, "failed to parse units file")

	empty := filepath.Join(tmpDir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("units: []\n"), 0644))
	_, err = LoadUnitsFile(empty)
	require.ErrorIs(t, err, ErrNoUnits)
}

func createTestFiles(pkgDir string) error {
	testFiles := map[string]string{
		"normal_test.go": `
package pkg

func TestNormal(t *testing.T) {}
func TestAnother(t *testing.T) {}
`,
		"main_test.go": `
package pkg

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestWithMain(t *testing.T) {}
`,
		"benchmark_test.go": `
package pkg

type suite struct{}

func (suite) TestMethod(t *testing.T) {}
func BenchmarkSomething(b *testing.B) {}
func TestWithBenchmark(t *testing.T) {}
`,
		"naming_test.go": `
package pkg

func Testify(t *testing.T) {}
func Test_underscore(t *testing.T) {}
func FuzzParse(f *testing.F) {}
func Fuzzy() {}
`,
		"example_test.go": `
package pkg

func ExampleOutput() {
	fmt.Println("hi")
	// Output: hi
}

func ExampleEmptyOutput() {
	// Output:
}

func ExampleCompileOnly() {
	fmt.Println("not run")
}
`,
	}

	for filename, content := range testFiles {
		if err := os.WriteFile(filepath.Join(pkgDir, filename), []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
