package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multitest/testlist"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// UnitExecutor runs one unit inside the child process. Human-readable
// output goes to out; the outcome is reported by the caller. An error is
// an executor failure, not a test failure: a canceled ctx means the run
// was interrupted, anything else becomes CHILD_ERROR.
type UnitExecutor interface {
	Run(ctx context.Context, cfg types.ConfigSnapshot, unit string, out io.Writer) (types.Outcome, error)
}

var _ UnitExecutor = (*GoTestExecutor)(nil)

// CmdBuilder creates the go test command. The returned func releases
// anything the builder acquired.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// GoTestExecutor runs a unit as a single Go package through go test -json.
type GoTestExecutor struct {
	log        log.Logger
	cmdBuilder CmdBuilder
	grace      time.Duration
}

func NewGoTestExecutor(logger log.Logger) *GoTestExecutor {
	return &GoTestExecutor{
		log:        logger.New("component", "executor"),
		cmdBuilder: defaultCmdBuilder,
		grace:      WatchdogGrace,
	}
}

// defaultCmdBuilder interrupts go test when ctx ends, and kills it if it
// has not exited shortly after.
func defaultCmdBuilder(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second
	return cmd, func() {}
}

func (e *GoTestExecutor) Run(ctx context.Context, cfg types.ConfigSnapshot, unit string, out io.Writer) (types.Outcome, error) {
	pkgDir, err := testlist.ResolvePackageDir(unit, cfg.WorkDir)
	if err != nil {
		return types.Outcome{}, err
	}
	testFuncs, err := testlist.FindTestFunctions(pkgDir)
	if err != nil {
		return types.Outcome{}, err
	}
	if len(testFuncs) == 0 {
		return types.Outcome{Kind: types.KindSkipped, Message: "no test files"}, nil
	}

	before, err := snapshotDir(pkgDir)
	if err != nil {
		return types.Outcome{}, err
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout+e.grace)
	}
	defer cancel()

	args := buildTestArgs(cfg, unit)
	cmd, cleanup := e.cmdBuilder(runCtx, cfg.GoBinary, args...)
	defer cleanup()
	cmd.Dir = cfg.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug("Running go test", "unit", unit, "dir", pkgDir, "args", strings.Join(args, " "))
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return types.Outcome{}, fmt.Errorf("unit %s: %w", unit, ctx.Err())
	}

	report := parseEvents(stdout.Bytes())
	stderrText := strings.TrimSpace(stderr.String())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		outcome := types.Outcome{
			Kind:     types.KindFailed,
			Duration: duration,
			Message:  fmt.Sprintf("timed out after %s", cfg.Timeout),
		}
		e.writeOutput(out, cfg, report, outcome, stderrText)
		return outcome, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return types.Outcome{}, fmt.Errorf("failed to run go test: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	outcome := classify(report, exitCode, stderrText)
	outcome.Duration = duration

	if outcome.Kind == types.KindPassed {
		after, err := snapshotDir(pkgDir)
		if err != nil {
			return types.Outcome{}, err
		}
		if msg := envChangeMessage(before.diff(after)); msg != "" {
			e.log.Warn("Unit altered its package directory", "unit", unit, "change", msg)
			outcome.Kind = types.KindEnvChanged
			outcome.Message = msg
		}
	}

	e.writeOutput(out, cfg, report, outcome, stderrText)
	return outcome, nil
}

func buildTestArgs(cfg types.ConfigSnapshot, unit string) []string {
	args := []string{TestCommand, JSONFlag, CountFlag}

	if cfg.Verbose > 0 {
		args = append(args, VerboseFlag)
	}
	if cfg.Timeout > 0 {
		args = append(args, TimeoutFlag, cfg.Timeout.String())
	}
	if cfg.FailFast {
		args = append(args, FailFastFlag)
	}
	if len(cfg.MatchTests) > 0 {
		args = append(args, RunFlag, strings.Join(cfg.MatchTests, "|"))
	}

	return append(args, unit)
}

// classify maps a finished go test run onto an outcome kind.
func classify(report *packageReport, exitCode int, stderr string) types.Outcome {
	if report.status == ActionFail || exitCode != 0 {
		if failed := report.failedTests(); len(failed) > 0 {
			return types.Outcome{Kind: types.KindFailed, Message: "failed: " + strings.Join(failed, ", ")}
		}
		if line := firstLine(stderr); line != "" {
			return types.Outcome{Kind: types.KindFailed, Message: line}
		}
		return types.Outcome{Kind: types.KindFailed, Message: fmt.Sprintf("go test exited with code %d", exitCode)}
	}

	if report.status == "" {
		return types.Outcome{Kind: types.KindFailed, Message: "no test output"}
	}

	if report.count(ActionPass) > 0 {
		return types.Outcome{Kind: types.KindPassed}
	}

	reasons := report.skipReasons()
	for _, reason := range reasons {
		if strings.HasPrefix(strings.ToLower(reason), ResourceDeniedPrefix) {
			return types.Outcome{Kind: types.KindResourceDenied, Message: reason}
		}
	}
	if len(reasons) > 0 && reasons[0] != "" {
		return types.Outcome{Kind: types.KindSkipped, Message: reasons[0]}
	}
	return types.Outcome{Kind: types.KindSkipped, Message: "no tests to run"}
}

// writeOutput prints what the operator should see for this unit: every
// line in verbose mode, the failing tests otherwise, nothing in PGO mode.
func (e *GoTestExecutor) writeOutput(out io.Writer, cfg types.ConfigSnapshot, report *packageReport, outcome types.Outcome, stderr string) {
	if cfg.PGO || out == nil {
		return
	}

	failed := outcome.Kind == types.KindFailed
	switch {
	case cfg.Verbose > 0, failed && cfg.VerboseOnFail:
		for _, line := range report.output {
			fmt.Fprintln(out, line)
		}
	case failed:
		names := report.failedTests()
		for _, name := range names {
			fmt.Fprintln(out, report.tests[name].failureText())
		}
		if len(names) == 0 {
			// build failures and panics outside of a test
			for _, line := range report.output {
				fmt.Fprintln(out, line)
			}
		}
	default:
		return
	}

	if failed && stderr != "" {
		fmt.Fprintln(out, stderr)
	}
	if failed && outcome.Message != "" {
		fmt.Fprintf(out, "%s: %s\n", outcome.Kind, outcome.Message)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
