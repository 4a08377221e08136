package runner

import "time"

const (
	// DefaultSlowThreshold is the minimum duration for a unit to have its
	// duration displayed or to be listed as running.
	DefaultSlowThreshold = 30 * time.Second

	// DefaultProgressInterval is how long the orchestrator waits for a
	// result before printing the running units.
	DefaultProgressInterval = 30 * time.Second

	// WorkerCommand is the subcommand that turns the binary into a child.
	WorkerCommand = "worker"
	// PayloadFlag carries the serialized WorkerPayload to the child.
	PayloadFlag = "--payload"

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32
)
