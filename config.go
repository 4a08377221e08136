package multitest

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-multitest/flags"
	"github.com/ethereum-optimism/infra/op-multitest/testlist"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// Config holds the application configuration
type Config struct {
	TestDir          string
	Units            []string      // Units to run, in dispatch order
	Jobs             int           // Number of parallel workers
	Timeout          time.Duration // Per-unit timeout, 0 disables it
	MatchTests       []string
	FailFast         bool
	Verbose          int
	Quiet            bool
	VerboseOnFail    bool
	PGO              bool
	GoBinary         string
	SlowThreshold    time.Duration
	ProgressInterval time.Duration
	LogDir           string // Directory to store per-unit logs
	HealthzAddr      string // Empty disables the healthz server
	MetricsConfig    opmetrics.CLIConfig
	Log              log.Logger
}

// DefaultJobs is the pool size used when --jobs is 0.
func DefaultJobs() int {
	return runtime.NumCPU() + 2
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}

	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	units, err := resolveUnits(absTestDir, ctx.String(flags.UnitsFile.Name), ctx.Args().Slice())
	if err != nil {
		return nil, err
	}

	jobs := ctx.Int(flags.Jobs.Name)
	if jobs < 0 {
		return nil, fmt.Errorf("jobs cannot be negative, got %d", jobs)
	}
	if jobs == 0 {
		jobs = DefaultJobs()
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	cfg := &Config{
		TestDir:          absTestDir,
		Units:            units,
		Jobs:             jobs,
		Timeout:          ctx.Duration(flags.Timeout.Name),
		MatchTests:       ctx.StringSlice(flags.Match.Name),
		FailFast:         ctx.Bool(flags.FailFast.Name),
		Verbose:          ctx.Int(flags.Verbose.Name),
		Quiet:            ctx.Bool(flags.Quiet.Name),
		VerboseOnFail:    ctx.Bool(flags.VerboseOnFailure.Name),
		PGO:              ctx.Bool(flags.PGO.Name),
		GoBinary:         ctx.String(flags.GoBinary.Name),
		SlowThreshold:    ctx.Duration(flags.SlowThreshold.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		LogDir:           logDir,
		HealthzAddr:      ctx.String(flags.HealthzAddr.Name),
		MetricsConfig:    metricsCfg,
		Log:              log,
	}
	if err := cfg.Snapshot().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveUnits picks the units file if given, then positional arguments,
// and falls back to every test package under testDir.
func resolveUnits(testDir, unitsFile string, args []string) ([]string, error) {
	if unitsFile != "" {
		return testlist.LoadUnitsFile(unitsFile)
	}
	if units := testlist.Filter(args, nil); len(units) > 0 {
		return units, nil
	}

	units, err := testlist.FindTestPackages(testDir, testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover test packages: %w", err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%s: %w", testDir, testlist.ErrNoUnits)
	}
	return units, nil
}

// Snapshot freezes the parts of the configuration every child needs.
func (c *Config) Snapshot() types.ConfigSnapshot {
	return types.ConfigSnapshot{
		Verbose:          c.Verbose,
		Quiet:            c.Quiet,
		VerboseOnFail:    c.VerboseOnFail,
		Timeout:          c.Timeout,
		MatchTests:       append([]string(nil), c.MatchTests...),
		FailFast:         c.FailFast,
		PoolSize:         c.Jobs,
		PGO:              c.PGO,
		WorkDir:          c.TestDir,
		GoBinary:         c.GoBinary,
		SlowThreshold:    c.SlowThreshold,
		ProgressInterval: c.ProgressInterval,
	}
}
