package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	multitest "github.com/ethereum-optimism/infra/op-multitest"
	"github.com/ethereum-optimism/infra/op-multitest/executor"
	"github.com/ethereum-optimism/infra/op-multitest/exitcodes"
	"github.com/ethereum-optimism/infra/op-multitest/flags"
	"github.com/ethereum-optimism/infra/op-multitest/runner"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-multitest"
	app.Usage = "Runs Go test packages in parallel child processes"
	app.Description = "op-multitest dispatches test units to a pool of worker processes and aggregates their outcomes"
	app.ArgsUsage = "[units...]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:   runner.WorkerCommand,
			Usage:  "Run a single unit and report its outcome (internal)",
			Hidden: true,
			Flags:  []cli.Flag{flags.Payload},
			Action: worker,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
		}
	}

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case multitest.IsInterruptedError(err):
		return exitcodes.Interrupted
	case multitest.IsTestFailureError(err):
		return exitcodes.TestFailure
	default:
		return exitcodes.RuntimeErr
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := multitest.NewConfig(ctx, log)
	if err != nil {
		return nil, multitest.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	svc, err := multitest.New(cfg, Version, closeApp)
	if err != nil {
		return nil, multitest.NewRuntimeError(fmt.Errorf("failed to create op-multitest: %w", err))
	}
	return svc, nil
}

// worker is the child side of a dispatch. Its stdout is parsed by the
// parent, so logs go to stderr.
func worker(ctx *cli.Context) error {
	logger := oplog.NewLogger(os.Stderr, oplog.DefaultCLIConfig())

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := executor.RunChild(sigCtx, ctx.String(flags.Payload.Name), os.Stdout, os.Stderr,
		executor.NewGoTestExecutor(logger), logger)
	if code != exitcodes.Success {
		return cli.Exit("", code)
	}
	return nil
}
