package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// RunChild is the child-process side of a unit dispatch. It decodes the
// payload, runs the unit and writes the result record as the last line of
// stdout, preceded by a blank line. It returns the process exit code: 0
// whenever a record was written, ExitInvalidPayload otherwise.
func RunChild(ctx context.Context, payload string, stdout, stderr io.Writer, ex UnitExecutor, logger log.Logger) int {
	p, err := types.DecodePayload([]byte(payload))
	if err != nil {
		fmt.Fprintf(stderr, "op-multitest worker: %v\n", err)
		return ExitInvalidPayload
	}

	logger = logger.New("unit", p.Unit)
	start := time.Now()
	outcome := runUnit(ctx, p, stdout, ex, logger)
	if outcome.Duration <= 0 {
		outcome.Duration = time.Since(start)
	}

	line, err := types.EncodeResultLine(outcome)
	if err != nil {
		fmt.Fprintf(stderr, "op-multitest worker: %v\n", err)
		return ExitInvalidPayload
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%s\n", line)
	return 0
}

// runUnit turns every executor failure, including a panic, into an outcome.
func runUnit(ctx context.Context, p types.WorkerPayload, stdout io.Writer, ex UnitExecutor, logger log.Logger) (outcome types.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Executor panicked", "panic", r)
			outcome = types.NewChildError(fmt.Sprintf("panic: %v", r))
		}
	}()

	outcome, err := ex.Run(ctx, p.Config, p.Unit, stdout)
	switch {
	case err == nil:
		return outcome
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		logger.Warn("Unit interrupted", "err", err)
		return types.Outcome{Kind: types.KindInterrupted}
	default:
		logger.Error("Executor failed", "err", err)
		return types.NewChildError(err.Error())
	}
}
