package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_MULTITEST"

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Root of the Go module whose packages are run as units (required)",
	}
	UnitsFile = &cli.StringFlag{
		Name:    "units-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UNITS_FILE"),
		Usage:   "YAML file listing the units to run. Without it, positional arguments or every test package under --testdir are used",
	}
	Jobs = &cli.IntFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JOBS"),
		Usage:   "Number of units run in parallel (0 = number of CPUs + 2)",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout for a single unit (0 disables the watchdog)",
	}
	Match = &cli.StringSliceFlag{
		Name:    "match",
		Aliases: []string{"m"},
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MATCH"),
		Usage:   "Only run tests matching this pattern (repeatable)",
	}
	FailFast = &cli.BoolFlag{
		Name:    "failfast",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAILFAST"),
		Usage:   "Stop a unit at its first failing test",
	}
	Verbose = &cli.IntFlag{
		Name:    "verbose",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Verbosity of unit output (0 = failures only)",
	}
	Quiet = &cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "QUIET"),
		Usage:   "Do not print a progress line per unit",
	}
	VerboseOnFailure = &cli.BoolFlag{
		Name:    "verbose-on-failure",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE_ON_FAILURE"),
		Usage:   "Print the full output of failing units",
	}
	PGO = &cli.BoolFlag{
		Name:    "pgo",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PGO"),
		Usage:   "Profile-collection mode: minimal output, no timing details",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	SlowThreshold = &cli.DurationFlag{
		Name:    "slow-threshold",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SLOW_THRESHOLD"),
		Usage:   "Units running longer than this are shown with their duration",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between liveness lines while no unit completes",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to store per-unit logs",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Serve /healthz on this address while running (eg. '0.0.0.0:8080')",
	}
)

// Payload is the only flag of the hidden worker subcommand.
var Payload = &cli.StringFlag{
	Name:     "payload",
	Required: true,
	Usage:    "JSON-encoded worker payload",
}

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	UnitsFile,
	Jobs,
	Timeout,
	Match,
	FailFast,
	Verbose,
	Quiet,
	VerboseOnFailure,
	PGO,
	GoBinary,
	SlowThreshold,
	ProgressInterval,
	LogDir,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
