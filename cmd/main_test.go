package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	multitest "github.com/ethereum-optimism/infra/op-multitest"
	"github.com/ethereum-optimism/infra/op-multitest/exitcodes"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitcodes.Success},
		{name: "test failure", err: multitest.NewTestFailureError("1 of 3 units failed"), want: exitcodes.TestFailure},
		{name: "runtime", err: multitest.NewRuntimeError(errors.New("boom")), want: exitcodes.RuntimeErr},
		{name: "interrupted", err: &multitest.InterruptedError{NotRun: 2}, want: exitcodes.Interrupted},
		{
			name: "wrapped by lifecycle",
			err:  errors.Join(fmt.Errorf("failed to start: %w", multitest.NewTestFailureError("x")), nil),
			want: exitcodes.TestFailure,
		},
		{name: "unknown", err: errors.New("mystery"), want: exitcodes.RuntimeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
