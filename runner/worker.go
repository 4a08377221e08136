package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-multitest/metrics"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// WorkerState is informational only; nothing depends on it for correctness.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateDispatching
	StateAwaitingChild
	StatePublishing
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingChild:
		return "awaiting_child"
	case StatePublishing:
		return "publishing"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// message is what a worker publishes on the output channel. A message with
// done set carries no outcome: it tells the orchestrator the slot is gone.
type message struct {
	worker  int
	unit    string
	outcome types.Outcome
	stdout  string
	stderr  string

	done bool
	err  error
}

type runningUnit struct {
	unit  string
	start time.Time
}

// Worker runs one unit at a time in a child process until the queue is
// exhausted.
type Worker struct {
	id     int
	cfg    types.ConfigSnapshot
	queue  *WorkQueue
	output chan<- message
	build  CommandBuilder
	log    log.Logger
	tracer trace.Tracer

	state atomic.Int32
	// current is read by the orchestrator for progress display without any
	// other synchronization. A stale value only affects a liveness message.
	current atomic.Pointer[runningUnit]
}

func newWorker(id int, cfg types.ConfigSnapshot, queue *WorkQueue, output chan<- message,
	build CommandBuilder, logger log.Logger, tracer trace.Tracer) *Worker {
	return &Worker{
		id:     id,
		cfg:    cfg,
		queue:  queue,
		output: output,
		build:  build,
		log:    logger.New("worker", id),
		tracer: tracer,
	}
}

// State returns the last state the worker reported. It is read together
// with Current when listing in-flight units.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Current returns the unit the worker is waiting on and when it was spawned.
func (w *Worker) Current() (unit string, start time.Time, ok bool) {
	cur := w.current.Load()
	if cur == nil {
		return "", time.Time{}, false
	}
	return cur.unit, cur.start, true
}

// Run claims and executes units until the queue reports exhaustion, an
// outcome tells the worker to stop, ctx is canceled or an internal error
// occurs. Whatever the exit path, exactly one done message is published;
// after an internal error it names the unit the slot was holding.
func (w *Worker) Run(ctx context.Context) (err error) {
	w.log.Debug("Worker starting")
	var claimed string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panicked: %v", w.id, r)
			if claimed != "" {
				err = fmt.Errorf("unit %s: %w", claimed, err)
			}
		}
		w.current.Store(nil)
		w.setState(StateIdle)
		done := message{worker: w.id, done: true}
		if err != nil {
			w.log.Error("Worker stopped on internal error", "unit", claimed, "err", err)
			metrics.RecordErrorDetails("worker", err)
			done.unit = claimed
			done.err = err
		} else {
			w.log.Debug("Worker exiting")
		}
		w.output <- done
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.setState(StateDispatching)
		unit, ok := w.queue.Next()
		if !ok {
			return nil
		}
		claimed = unit
		w.current.Store(&runningUnit{unit: unit, start: time.Now()})

		stop, err := w.runUnit(ctx, unit)
		if err != nil {
			return fmt.Errorf("unit %s: %w", unit, err)
		}
		claimed = ""
		if stop {
			return nil
		}
		w.current.Store(nil)
		w.setState(StateIdle)
	}
}

// runUnit spawns one child for unit and publishes its outcome. stop reports
// whether the worker must not claim further units.
func (w *Worker) runUnit(ctx context.Context, unit string) (stop bool, err error) {
	_, span := w.tracer.Start(ctx, fmt.Sprintf("unit %s", unit))
	defer span.End()

	payload, err := types.EncodePayload(w.cfg, unit)
	if err != nil {
		return false, fmt.Errorf("failed to encode payload: %w", err)
	}
	cmd, err := w.build(payload)
	if err != nil {
		return false, fmt.Errorf("failed to build command: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	w.log.Debug("Dispatching unit", "unit", unit)
	w.current.Store(&runningUnit{unit: unit, start: time.Now()})
	w.setState(StateAwaitingChild)
	metrics.WorkerBusy()
	runErr := cmd.Run()
	metrics.WorkerIdle()
	w.current.Store(nil)
	w.setState(StatePublishing)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return false, fmt.Errorf("failed to run child: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}
	stderrText := strings.TrimRight(stderr.String(), " \t\r\n")

	if exitCode != 0 {
		// Whatever the child printed last cannot be trusted, so all of
		// stdout is forwarded.
		outcome := types.NewChildError(fmt.Sprintf("exit code %d", exitCode))
		span.SetAttributes(attribute.String("kind", string(outcome.Kind)), attribute.Int("exit_code", exitCode))
		w.publish(message{
			unit:    unit,
			outcome: outcome,
			stdout:  strings.TrimRight(stdout.String(), " \t\r\n"),
			stderr:  stderrText,
		})
		return true, nil
	}

	output, last := types.SplitResultLine(stdout.Bytes())
	outcome, err := types.DecodeResultLine(last)
	if err != nil {
		// TODO: record these as CHILD_ERROR once executors flush the result
		// line reliably on every exit path.
		w.log.Warn("Child exited without a result", "unit", unit, "err", err,
			"stdoutBytes", stdout.Len(), "stderrBytes", stderr.Len())
		metrics.RecordNoResult()
		return false, nil
	}

	span.SetAttributes(attribute.String("kind", string(outcome.Kind)))
	w.publish(message{
		unit:    unit,
		outcome: outcome,
		stdout:  string(output),
		stderr:  stderrText,
	})
	return outcome.Kind == types.KindInterrupted || outcome.Kind == types.KindChildError, nil
}

func (w *Worker) publish(msg message) {
	msg.worker = w.id
	w.output <- msg
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}
