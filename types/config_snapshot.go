package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PayloadVersion is bumped whenever the worker payload schema changes.
const PayloadVersion = 1

var ErrInvalidPayload = errors.New("invalid worker payload")

// ConfigSnapshot is the run-wide configuration handed to every child
// process. It is built once before orchestration starts and never mutated.
type ConfigSnapshot struct {
	Verbose          int           `json:"verbose"`
	Quiet            bool          `json:"quiet"`
	VerboseOnFail    bool          `json:"verboseOnFailure"`
	Timeout          time.Duration `json:"timeout"`
	MatchTests       []string      `json:"matchTests"`
	FailFast         bool          `json:"failFast"`
	PoolSize         int           `json:"poolSize"`
	PGO              bool          `json:"pgo"`
	WorkDir          string        `json:"workDir"`
	GoBinary         string        `json:"goBinary"`
	SlowThreshold    time.Duration `json:"slowThreshold"`
	ProgressInterval time.Duration `json:"progressInterval"`
}

// Validate checks the invariants a child relies on.
func (c ConfigSnapshot) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout)
	}
	if c.Verbose < 0 {
		return fmt.Errorf("verbosity cannot be negative, got %d", c.Verbose)
	}
	if c.WorkDir == "" {
		return errors.New("work dir cannot be empty")
	}
	if c.GoBinary == "" {
		return errors.New("go binary cannot be empty")
	}
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c ConfigSnapshot) Clone() ConfigSnapshot {
	out := c
	if c.MatchTests != nil {
		out.MatchTests = append([]string(nil), c.MatchTests...)
	}
	return out
}

// WorkerPayload is the single argument passed to a child process.
type WorkerPayload struct {
	Version int            `json:"version"`
	Config  ConfigSnapshot `json:"config"`
	Unit    string         `json:"unit"`
}

// wirePayload mirrors WorkerPayload with pointer fields so that missing
// keys can be told apart from zero values on decode.
type wirePayload struct {
	Version *int            `json:"version"`
	Config  *ConfigSnapshot `json:"config"`
	Unit    *string         `json:"unit"`
}

// EncodePayload serializes the snapshot and unit for a child process.
func EncodePayload(cfg ConfigSnapshot, unit string) ([]byte, error) {
	if unit == "" {
		return nil, errors.New("unit cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config snapshot: %w", err)
	}
	return json.Marshal(WorkerPayload{
		Version: PayloadVersion,
		Config:  cfg,
		Unit:    unit,
	})
}

// DecodePayload parses and validates a payload produced by EncodePayload.
// Unknown and missing fields are rejected rather than defaulted.
func DecodePayload(data []byte) (WorkerPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wirePayload
	if err := dec.Decode(&w); err != nil {
		return WorkerPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch {
	case w.Version == nil:
		return WorkerPayload{}, fmt.Errorf("%w: missing version", ErrInvalidPayload)
	case *w.Version != PayloadVersion:
		return WorkerPayload{}, fmt.Errorf("%w: unsupported version %d (want %d)", ErrInvalidPayload, *w.Version, PayloadVersion)
	case w.Config == nil:
		return WorkerPayload{}, fmt.Errorf("%w: missing config", ErrInvalidPayload)
	case w.Unit == nil || *w.Unit == "":
		return WorkerPayload{}, fmt.Errorf("%w: missing unit", ErrInvalidPayload)
	}
	if err := w.Config.Validate(); err != nil {
		return WorkerPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return WorkerPayload{
		Version: *w.Version,
		Config:  *w.Config,
		Unit:    *w.Unit,
	}, nil
}
