package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-multitest/types"
)

// UnitResult is one entry of the Accumulator.
type UnitResult struct {
	Unit     string
	Duration time.Duration
	Message  string
}

// Accumulator maps each outcome kind to the units that produced it, in the
// order the orchestrator received them. It is written by the draining
// goroutine only and is not safe for concurrent use.
type Accumulator struct {
	byKind map[types.Kind][]UnitResult
	order  []string
	total  int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{byKind: make(map[types.Kind][]UnitResult)}
}

// Add appends the outcome of unit.
func (a *Accumulator) Add(unit string, o types.Outcome) {
	a.byKind[o.Kind] = append(a.byKind[o.Kind], UnitResult{
		Unit:     unit,
		Duration: o.Duration,
		Message:  o.Message,
	})
	a.order = append(a.order, unit)
	a.total++
}

// Results returns the entries recorded for kind.
func (a *Accumulator) Results(kind types.Kind) []UnitResult {
	return a.byKind[kind]
}

// Units returns the unit names recorded for kind.
func (a *Accumulator) Units(kind types.Kind) []string {
	entries := a.byKind[kind]
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Unit)
	}
	return names
}

func (a *Accumulator) Count(kind types.Kind) int {
	return len(a.byKind[kind])
}

// Total is the number of outcomes recorded.
func (a *Accumulator) Total() int {
	return a.total
}

// Bad is the number of FAILED and CHILD_ERROR outcomes.
func (a *Accumulator) Bad() int {
	n := 0
	for kind, entries := range a.byKind {
		if kind.IsBad() {
			n += len(entries)
		}
	}
	return n
}

// Order returns every recorded unit in receipt order.
func (a *Accumulator) Order() []string {
	return append([]string(nil), a.order...)
}
