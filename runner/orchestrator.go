package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-multitest/metrics"
	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// ChildError is returned by Orchestrator.Run when a child process misbehaved.
type ChildError struct {
	Unit    string
	Message string
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child error on %s: %s", e.Unit, e.Message)
}

// IsChildError checks if the error is or wraps a ChildError
func IsChildError(err error) bool {
	var childErr *ChildError
	return err != nil && errors.As(err, &childErr)
}

// LostSlot is a worker slot that stopped on an internal error, together
// with the unit it had claimed. Unit is empty when the slot held none.
type LostSlot struct {
	Unit string
	Err  error
}

// SlotLostError is returned by Orchestrator.Run when at least one worker
// slot stopped on an internal error.
type SlotLostError struct {
	Lost []LostSlot
}

func (e *SlotLostError) Error() string {
	units := make([]string, 0, len(e.Lost))
	for _, l := range e.Lost {
		units = append(units, l.Unit)
	}
	return fmt.Sprintf("%d worker slot(s) lost, units not recorded: %s", len(e.Lost), joinUnits(units))
}

// IsSlotLostError checks if the error is or wraps a SlotLostError
func IsSlotLostError(err error) bool {
	var lostErr *SlotLostError
	return err != nil && errors.As(err, &lostErr)
}

// OutputSink receives every recorded outcome together with the child's
// captured output. It is called from the draining goroutine only.
type OutputSink interface {
	Consume(runID string, unit string, outcome types.Outcome, stdout, stderr string) error
}

// Config configures an Orchestrator.
type Config struct {
	Snapshot       types.ConfigSnapshot
	Units          []string
	Log            log.Logger
	RunID          string         // generated when empty
	CommandBuilder CommandBuilder // defaults to re-executing this binary
	Stdout         io.Writer      // progress and forwarded child stdout
	Stderr         io.Writer      // forwarded child stderr
	Sink           OutputSink     // optional
}

// RunResult is what a run hands back to its caller.
type RunResult struct {
	RunID       string
	Results     *Accumulator
	Interrupted bool
	NotRun      []string
	Lost        []LostSlot
	Duration    time.Duration
}

// Orchestrator owns a pool of workers and drains their results.
type Orchestrator struct {
	cfg    types.ConfigSnapshot
	units  []string
	runID  string
	build  CommandBuilder
	stdout io.Writer
	stderr io.Writer
	sink   OutputSink
	log    log.Logger
	tracer trace.Tracer
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config snapshot: %w", err)
	}
	if cfg.Snapshot.PoolSize > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high pool size requested", "poolSize", cfg.Snapshot.PoolSize,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	snapshot := cfg.Snapshot.Clone()
	if snapshot.SlowThreshold <= 0 {
		snapshot.SlowThreshold = DefaultSlowThreshold
	}
	if snapshot.ProgressInterval <= 0 {
		snapshot.ProgressInterval = DefaultProgressInterval
	}

	o := &Orchestrator{
		cfg:    snapshot,
		units:  append([]string(nil), cfg.Units...),
		runID:  cfg.RunID,
		build:  cfg.CommandBuilder,
		stdout: cfg.Stdout,
		stderr: cfg.Stderr,
		sink:   cfg.Sink,
		log:    cfg.Log.New("component", "orchestrator"),
		tracer: otel.Tracer("op-multitest"),
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	if o.build == nil {
		o.build = SelfCommandBuilder(snapshot.WorkDir)
	}
	if o.stdout == nil {
		o.stdout = os.Stdout
	}
	if o.stderr == nil {
		o.stderr = os.Stderr
	}
	return o, nil
}

func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run dispatches every unit and blocks until all workers have quiesced.
// The returned result is complete even when err is non-nil; err holds a
// *ChildError when a child misbehaved and a *SlotLostError when a worker
// slot stopped on an internal error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", o.runID), attribute.Int("units", len(o.units)))

	poolSize := o.cfg.PoolSize
	queue := NewWorkQueue(o.units)
	output := make(chan message, poolSize)

	o.log.Info("Starting workers", "runID", o.runID, "units", queue.Len(), "poolSize", poolSize)

	workers := make([]*Worker, poolSize)
	var g errgroup.Group
	for i := range workers {
		w := newWorker(i, o.cfg, queue, output, o.build, o.log, o.tracer)
		workers[i] = w
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	d := &drain{
		o:        o,
		queue:    queue,
		workers:  workers,
		results:  NewAccumulator(),
		start:    start,
		poolSize: poolSize,
	}
	d.loop(ctx, output)

	if err := g.Wait(); err != nil {
		o.log.Warn("At least one worker stopped early", "err", err)
	}

	result := &RunResult{
		RunID:       o.runID,
		Results:     d.results,
		Interrupted: d.interrupted,
		NotRun:      queue.Remaining(),
		Lost:        d.lost,
		Duration:    time.Since(start),
	}
	o.log.Info("Run finished", "runID", o.runID, "recorded", d.results.Total(),
		"notRun", len(result.NotRun), "lost", len(result.Lost), "interrupted", result.Interrupted,
		"duration", result.Duration)

	var runErr error
	if d.fatal != nil {
		runErr = d.fatal
	}
	if len(d.lost) > 0 {
		runErr = errors.Join(runErr, &SlotLostError{Lost: d.lost})
	}
	if runErr != nil {
		span.RecordError(runErr)
	}
	return result, runErr
}

// drain holds the state only the draining goroutine touches.
type drain struct {
	o        *Orchestrator
	queue    *WorkQueue
	workers  []*Worker
	results  *Accumulator
	start    time.Time
	poolSize int

	finished    int
	interrupted bool
	fatal       *ChildError
	lost        []LostSlot
}

func (d *drain) loop(ctx context.Context, output <-chan message) {
	wait := max(d.o.cfg.ProgressInterval, d.o.cfg.SlowThreshold)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	done := ctx.Done()
	for d.finished < d.poolSize {
		timer.Reset(wait)
		select {
		case msg := <-output:
			if msg.done {
				d.finished++
				if msg.err != nil {
					d.o.log.Error("Worker slot lost", "worker", msg.worker, "unit", msg.unit, "err", msg.err)
					d.lost = append(d.lost, LostSlot{Unit: msg.unit, Err: msg.err})
				}
				continue
			}
			d.handle(msg)

		case <-timer.C:
			running := runningUnits(d.workers, d.o.cfg.SlowThreshold, time.Now())
			if len(running) > 0 && !d.o.cfg.PGO {
				fmt.Fprintf(d.o.stdout, "running: %s\n", joinUnits(running))
			}

		case <-done:
			done = nil
			d.interrupted = true
			d.o.log.Warn("Run interrupted, no further units will be dispatched")
			d.stopDispatch()
		}
	}

	// Workers that saw the cancellation first may all have exited before
	// the select above picked it up.
	if ctx.Err() != nil && !d.interrupted {
		d.interrupted = true
		d.queue.MarkInterrupted()
	}
}

func (d *drain) handle(msg message) {
	d.results.Add(msg.unit, msg.outcome)
	metrics.RecordOutcome(msg.outcome)
	if d.o.sink != nil {
		if err := d.o.sink.Consume(d.o.runID, msg.unit, msg.outcome, msg.stdout, msg.stderr); err != nil {
			d.o.log.Error("Failed to store unit output", "unit", msg.unit, "err", err)
		}
	}

	d.displayProgress(msg)
	if msg.stdout != "" {
		fmt.Fprintln(d.o.stdout, msg.stdout)
	}
	if msg.stderr != "" && !d.o.cfg.PGO {
		fmt.Fprintln(d.o.stderr, msg.stderr)
	}

	switch msg.outcome.Kind {
	case types.KindInterrupted:
		d.interrupted = true
		d.o.log.Warn("Unit reported interruption", "unit", msg.unit)
		d.stopDispatch()
	case types.KindChildError:
		d.o.log.Error("Child error", "unit", msg.unit, "message", msg.outcome.Message)
		if d.fatal == nil {
			d.fatal = &ChildError{Unit: msg.unit, Message: msg.outcome.Message}
		}
		d.stopDispatch()
	case types.KindPassed, types.KindFailed, types.KindEnvChanged,
		types.KindSkipped, types.KindResourceDenied:
	}
}

func (d *drain) displayProgress(msg message) {
	if d.o.cfg.Quiet {
		return
	}
	pgo := d.o.cfg.PGO

	text := msg.unit
	switch msg.outcome.Kind {
	case types.KindChildError, types.KindInterrupted:
	default:
		if msg.outcome.Duration >= d.o.cfg.SlowThreshold && !pgo {
			text += fmt.Sprintf(" (%s)", formatSeconds(msg.outcome.Duration))
		}
	}
	if running := runningUnits(d.workers, d.o.cfg.SlowThreshold, time.Now()); len(running) > 0 && !pgo {
		text += " -- running: " + joinUnits(running)
	}

	line := formatProgressLine(time.Since(d.start), d.results.Total(), len(d.o.units), d.results.Bad(), pgo, text)
	fmt.Fprintln(d.o.stdout, line)
}

// stopDispatch marks the queue interrupted once and reports which units are
// still in flight. In-flight children are left to finish.
func (d *drain) stopDispatch() {
	if d.queue.Interrupted() {
		return
	}
	d.queue.MarkInterrupted()
	if running := inFlightUnits(d.workers); len(running) > 0 {
		fmt.Fprintf(d.o.stdout, "Waiting for %s\n", joinUnits(running))
	}
}
