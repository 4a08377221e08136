package multitest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-multitest/logging"
	"github.com/ethereum-optimism/infra/op-multitest/metrics"
	"github.com/ethereum-optimism/infra/op-multitest/runner"
	"github.com/ethereum-optimism/infra/op-multitest/service"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// multitest implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &multitest{}

// multitest runs every configured unit once, in parallel child processes.
type multitest struct {
	config  *Config
	version string
	runID   string

	// commandBuilder, stdout and formatter are overridden in tests
	commandBuilder runner.CommandBuilder
	stdout         io.Writer
	formatter      ResultFormatter

	healthz       *service.HealthzServer
	metricsServer *httputil.HTTPServer
	fileLogger    *logging.FileLogger

	result  *runner.RunResult
	running atomic.Bool

	shutdownCallback func(error)
}

func New(config *Config, version string, shutdownCallback func(error)) (*multitest, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config has no logger")
	}
	if len(config.Units) == 0 {
		return nil, errors.New("no units to run")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating op-multitest with config",
		"testDir", config.TestDir,
		"units", len(config.Units),
		"jobs", config.Jobs,
		"timeout", config.Timeout,
		"logDir", config.LogDir)

	return &multitest{
		config:           config,
		version:          version,
		runID:            uuid.New().String(),
		stdout:           os.Stdout,
		formatter:        NewConsoleResultFormatter(config.Log, os.Stdout),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the whole batch and returns the error that decides the exit
// code: nil on success, *TestFailureError, *InterruptedError or
// *RuntimeError otherwise.
func (m *multitest) Start(ctx context.Context) error {
	m.running.Store(true)
	log := m.config.Log.New("runID", m.runID)
	log.Info("Starting op-multitest", "version", m.version, "units", len(m.config.Units), "jobs", m.config.Jobs)

	if err := m.startServers(); err != nil {
		return NewRuntimeError(err)
	}

	fileLogger, err := logging.NewFileLogger(m.config.LogDir, m.runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}
	m.fileLogger = fileLogger

	orch, err := runner.NewOrchestrator(runner.Config{
		Snapshot:       m.config.Snapshot(),
		Units:          m.config.Units,
		Log:            m.config.Log,
		RunID:          m.runID,
		CommandBuilder: m.commandBuilder,
		Stdout:         m.stdout,
		Sink:           fileLogger,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create orchestrator: %w", err))
	}

	result, runErr := orch.Run(ctx)
	m.result = result
	if m.healthz != nil {
		m.healthz.MarkStopping()
	}

	if err := m.formatter.FormatResults(result); err != nil {
		log.Warn("Failed to print summary", "err", err)
	}
	if err := fileLogger.LogSummary(RenderSummary(result)); err != nil {
		log.Warn("Failed to store summary", "err", err)
	}
	if err := fileLogger.Complete(); err != nil {
		log.Warn("Failed to close unit logs", "err", err)
	}
	log.Info("Unit logs written", "dir", fileLogger.LogDir())

	status := runStatus(result, runErr)
	metrics.RecordRun(m.runID, status, result.Duration)

	switch {
	case runErr != nil:
		// child errors and lost worker slots
		return NewRuntimeError(runErr)
	case result.Interrupted:
		return &InterruptedError{NotRun: len(result.NotRun)}
	case result.Results.Count(types.KindFailed) > 0:
		return NewTestFailureError(fmt.Sprintf("%d of %d units failed",
			result.Results.Count(types.KindFailed), result.Results.Total()))
	}

	log.Info("All units completed")
	go func() {
		m.shutdownCallback(nil)
	}()
	return nil
}

func (m *multitest) startServers() error {
	if m.config.HealthzAddr != "" {
		m.healthz = service.NewHealthzServer(m.config.Log)
		if err := m.healthz.Start(m.config.HealthzAddr); err != nil {
			return fmt.Errorf("failed to start healthz server: %w", err)
		}
	}

	metricsCfg := m.config.MetricsConfig
	if metricsCfg.Enabled {
		m.config.Log.Info("Starting metrics server", "addr", metricsCfg.ListenAddr, "port", metricsCfg.ListenPort)
		srv, err := opmetrics.StartServer(metrics.Registry, metricsCfg.ListenAddr, metricsCfg.ListenPort)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		m.config.Log.Info("Started metrics server", "endpoint", srv.Addr())
		m.metricsServer = srv
	}
	return nil
}

// runStatus is the run label recorded in metrics.
func runStatus(result *runner.RunResult, runErr error) string {
	switch {
	case runner.IsChildError(runErr):
		return "child_error"
	case len(result.Lost) > 0:
		return "worker_lost"
	case runErr != nil:
		return "error"
	case result.Interrupted:
		return "interrupted"
	case result.Results.Bad() > 0:
		return "failed"
	default:
		return "passed"
	}
}

func (m *multitest) Stop(ctx context.Context) error {
	if !m.running.Swap(false) {
		return nil
	}
	m.config.Log.Info("Stopping op-multitest")

	var result error
	if m.healthz != nil {
		if err := m.healthz.Shutdown(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
		}
	}
	if m.metricsServer != nil {
		if err := m.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	return result
}

// Stopped implements the cliapp.Lifecycle interface.
func (m *multitest) Stopped() bool {
	return !m.running.Load()
}

// Result returns the outcome of the last run, or nil before Start returns.
func (m *multitest) Result() *runner.RunResult {
	return m.result
}

func (m *multitest) RunID() string {
	return m.runID
}
