package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind is the tag of an Outcome.
type Kind string

const (
	KindPassed         Kind = "PASSED"
	KindFailed         Kind = "FAILED"
	KindEnvChanged     Kind = "ENV_CHANGED"
	KindSkipped        Kind = "SKIPPED"
	KindResourceDenied Kind = "RESOURCE_DENIED"
	KindInterrupted    Kind = "INTERRUPTED"
	KindChildError     Kind = "CHILD_ERROR"
)

// AllKinds lists every outcome kind in reporting order.
var AllKinds = []Kind{
	KindPassed,
	KindFailed,
	KindEnvChanged,
	KindSkipped,
	KindResourceDenied,
	KindInterrupted,
	KindChildError,
}

var ErrInvalidResultLine = errors.New("invalid result line")

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindPassed, KindFailed, KindEnvChanged, KindSkipped,
		KindResourceDenied, KindInterrupted, KindChildError:
		return true
	}
	return false
}

// IsBad reports whether the kind counts against the run.
func (k Kind) IsBad() bool {
	return k == KindFailed || k == KindChildError
}

// Outcome is the result of running one unit. Message is only meaningful
// for CHILD_ERROR (and for FAILED when the executor attaches a reason).
type Outcome struct {
	Kind     Kind
	Duration time.Duration
	Message  string
}

func (o Outcome) String() string {
	if o.Message != "" {
		return fmt.Sprintf("%s (%s): %s", o.Kind, o.Duration, o.Message)
	}
	return fmt.Sprintf("%s (%s)", o.Kind, o.Duration)
}

// NewChildError builds a CHILD_ERROR outcome with no measured duration.
func NewChildError(msg string) Outcome {
	return Outcome{Kind: KindChildError, Message: msg}
}

// resultLine is the wire form of an Outcome: the last line a child writes
// to stdout.
type resultLine struct {
	Kind     Kind    `json:"kind"`
	Duration float64 `json:"duration"`
	Message  string  `json:"message,omitempty"`
}

// EncodeResultLine renders o as a single JSON line without trailing newline.
func EncodeResultLine(o Outcome) ([]byte, error) {
	if !o.Kind.IsValid() {
		return nil, fmt.Errorf("unknown outcome kind %q", o.Kind)
	}
	return json.Marshal(resultLine{
		Kind:     o.Kind,
		Duration: o.Duration.Seconds(),
		Message:  o.Message,
	})
}

// DecodeResultLine parses a trailing result line written by a child.
func DecodeResultLine(line []byte) (Outcome, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Outcome{}, fmt.Errorf("%w: empty", ErrInvalidResultLine)
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	var rl resultLine
	if err := dec.Decode(&rl); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidResultLine, err)
	}
	if !rl.Kind.IsValid() {
		return Outcome{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidResultLine, rl.Kind)
	}
	if rl.Duration < 0 || math.IsNaN(rl.Duration) || math.IsInf(rl.Duration, 0) {
		return Outcome{}, fmt.Errorf("%w: bad duration %v", ErrInvalidResultLine, rl.Duration)
	}

	return Outcome{
		Kind:     rl.Kind,
		Duration: time.Duration(math.Round(rl.Duration * float64(time.Second))),
		Message:  rl.Message,
	}, nil
}

// SplitResultLine separates child stdout into the ordinary captured output
// and its final line. Surrounding whitespace is ignored, so a trailing
// newline after the record does not hide it.
func SplitResultLine(stdout []byte) (output []byte, last []byte) {
	trimmed := bytes.TrimSpace(stdout)
	idx := bytes.LastIndexByte(trimmed, '\n')
	if idx < 0 {
		return nil, trimmed
	}
	return bytes.TrimRight(trimmed[:idx], " \t\r\n"), trimmed[idx+1:]
}
