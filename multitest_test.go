package multitest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-multitest/runner"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

func shellBuilder(scripts map[string]string) func(payload []byte) (*exec.Cmd, error) {
	return func(payload []byte) (*exec.Cmd, error) {
		p, err := types.DecodePayload(payload)
		if err != nil {
			return nil, err
		}
		script, ok := scripts[p.Unit]
		if !ok {
			script = `echo; echo '{"kind":"PASSED","duration":0.01}'`
		}
		return exec.Command("sh", "-c", script), nil
	}
}

func newTestMultitest(t *testing.T, units []string, scripts map[string]string) (*multitest, *bytes.Buffer, chan error) {
	t.Helper()
	cfg := &Config{
		TestDir:          t.TempDir(),
		Units:            units,
		Jobs:             2,
		Timeout:          time.Minute,
		GoBinary:         "go",
		SlowThreshold:    time.Hour,
		ProgressInterval: time.Hour,
		LogDir:           t.TempDir(),
		HealthzAddr:      "127.0.0.1:0",
		Log:              log.NewLogger(log.DiscardHandler()),
	}
	shutdown := make(chan error, 1)
	m, err := New(cfg, "v0.0.0-test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	var stdout bytes.Buffer
	m.commandBuilder = shellBuilder(scripts)
	m.stdout = &stdout
	m.formatter = NewConsoleResultFormatter(cfg.Log, &stdout)
	return m, &stdout, shutdown
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, "v", nil)
	require.Error(t, err)

	_, err = New(&Config{Units: []string{"a"}}, "v", nil)
	require.ErrorContains(t, err, "logger")

	_, err = New(&Config{Log: log.NewLogger(log.DiscardHandler())}, "v", nil)
	require.ErrorContains(t, err, "no units")
}

func TestMultitestSuccess(t *testing.T) {
	m, stdout, shutdown := newTestMultitest(t, []string{"./a", "./b", "./c"}, nil)

	require.NoError(t, m.Start(context.Background()))
	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
	assert.False(t, m.Stopped())
	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, m.Stopped())
	require.NoError(t, m.Stop(context.Background()), "stopping twice is harmless")

	result := m.Result()
	require.NotNil(t, result)
	assert.Equal(t, m.RunID(), result.RunID)
	assert.Equal(t, 3, result.Results.Count(types.KindPassed))
	assert.Contains(t, stdout.String(), "Result: SUCCESS")

	runDir := filepath.Join(m.config.LogDir, "testrun-"+m.RunID())
	assert.FileExists(t, filepath.Join(runDir, "a.log"))
	assert.FileExists(t, filepath.Join(runDir, "summary.log"))
}

func TestMultitestFailure(t *testing.T) {
	m, stdout, _ := newTestMultitest(t, []string{"./a", "./b"}, map[string]string{
		"./b": `echo "--- FAIL: TestB"; echo '{"kind":"FAILED","duration":0.2}'`,
	})

	err := m.Start(context.Background())
	require.True(t, IsTestFailureError(err), "got %v", err)
	assert.Contains(t, err.Error(), "1 of 2 units failed")
	assert.Contains(t, stdout.String(), "--- FAIL: TestB")
	assert.Contains(t, stdout.String(), "Result: FAILURE")

	failedLog := filepath.Join(m.config.LogDir, "testrun-"+m.RunID(), "failed", "b.log")
	content, readErr := os.ReadFile(failedLog)
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "--- FAIL: TestB")
	require.NoError(t, m.Stop(context.Background()))
}

func TestMultitestChildError(t *testing.T) {
	m, stdout, _ := newTestMultitest(t, []string{"./a"}, map[string]string{
		"./a": `exit 7`,
	})

	err := m.Start(context.Background())
	require.True(t, IsRuntimeError(err), "got %v", err)
	assert.Contains(t, err.Error(), "child error on ./a: exit code 7")
	assert.Contains(t, stdout.String(), "Result: CHILD_ERROR")
	require.NoError(t, m.Stop(context.Background()))
}

func TestMultitestInterrupted(t *testing.T) {
	m, stdout, _ := newTestMultitest(t, []string{"./a", "./b", "./c", "./d"}, map[string]string{
		"./a": `echo; echo '{"kind":"INTERRUPTED","duration":0}'`,
		"./b": `sleep 0.2; echo; echo '{"kind":"PASSED","duration":0.2}'`,
	})
	m.config.Jobs = 1

	err := m.Start(context.Background())
	require.True(t, IsInterruptedError(err), "got %v", err)
	assert.Equal(t, &InterruptedError{NotRun: 3}, err)
	assert.Contains(t, stdout.String(), "did not run")
	require.NoError(t, m.Stop(context.Background()))
}

func TestMultitestLostSlots(t *testing.T) {
	m, stdout, _ := newTestMultitest(t, []string{"./a", "./b", "./c"}, nil)
	m.commandBuilder = func(payload []byte) (*exec.Cmd, error) {
		return nil, errors.New("fork failed")
	}

	err := m.Start(context.Background())
	require.True(t, IsRuntimeError(err), "got %v", err)
	assert.True(t, runner.IsSlotLostError(err))
	assert.Contains(t, err.Error(), "./a")
	assert.Contains(t, err.Error(), "./b")

	result := m.Result()
	require.Len(t, result.Lost, 2)
	assert.Equal(t, []string{"./c"}, result.NotRun)

	out := stdout.String()
	assert.Contains(t, out, "2 units lost their worker:")
	assert.Contains(t, out, "./a: unit ./a: failed to build command: fork failed")
	assert.Contains(t, out, "./b: unit ./b: failed to build command: fork failed")
	assert.Contains(t, out, "Result: WORKER_LOST")
	require.NoError(t, m.Stop(context.Background()))
}

func TestRunStatus(t *testing.T) {
	m, _, _ := newTestMultitest(t, []string{"./a"}, nil)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop(context.Background()) }()

	result := m.Result()
	assert.Equal(t, "passed", runStatus(result, nil))
	assert.Equal(t, "child_error", runStatus(result, &runner.ChildError{Unit: "./a", Message: "exit code 1"}))
	assert.Equal(t, "error", runStatus(result, assert.AnError))
	result.Lost = []runner.LostSlot{{Unit: "./a", Err: assert.AnError}}
	assert.Equal(t, "worker_lost", runStatus(result, assert.AnError))
	result.Lost = nil
	result.Interrupted = true
	assert.Equal(t, "interrupted", runStatus(result, nil))
}
