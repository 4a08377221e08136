package multitest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	runtimeErr := NewRuntimeError(errors.New("bad config"))
	wrapped := fmt.Errorf("starting: %w", runtimeErr)

	assert.True(t, IsRuntimeError(runtimeErr))
	assert.True(t, IsRuntimeError(wrapped))
	assert.Equal(t, "runtime error: bad config", runtimeErr.Error())
	assert.False(t, IsTestFailureError(wrapped))

	failure := NewTestFailureError("2 units failed")
	assert.True(t, IsTestFailureError(fmt.Errorf("run: %w", failure)))
	assert.Equal(t, "test failure: 2 units failed", failure.Error())
	assert.False(t, IsRuntimeError(failure))

	interrupted := &InterruptedError{NotRun: 3}
	assert.True(t, IsInterruptedError(interrupted))
	assert.Equal(t, "interrupted: 3 units not run", interrupted.Error())

	assert.False(t, IsRuntimeError(nil))
	assert.False(t, IsTestFailureError(nil))
	assert.False(t, IsInterruptedError(nil))
}
