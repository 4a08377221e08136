package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResultLine(t *testing.T) {
	o, err := DecodeResultLine([]byte(`{"kind":"FAILED","duration":1.23}`))
	require.NoError(t, err)
	assert.Equal(t, KindFailed, o.Kind)
	assert.Equal(t, 1230*time.Millisecond, o.Duration)
	assert.Empty(t, o.Message)

	o, err = DecodeResultLine([]byte(`{"kind":"CHILD_ERROR","duration":0,"message":"boom"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, KindChildError, o.Kind)
	assert.Equal(t, "boom", o.Message)
}

func TestDecodeResultLineRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "empty", line: ""},
		{name: "whitespace", line: "  \t"},
		{name: "plain text", line: "ok  	example.com/pkg	0.01s"},
		{name: "unknown kind", line: `{"kind":"MAYBE","duration":1}`},
		{name: "missing kind", line: `{"duration":1}`},
		{name: "negative duration", line: `{"kind":"PASSED","duration":-1}`},
		{name: "unknown field", line: `{"kind":"PASSED","duration":1,"extra":true}`},
		{name: "json null", line: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResultLine([]byte(tt.line))
			require.ErrorIs(t, err, ErrInvalidResultLine)
		})
	}
}

func TestEncodeResultLineRoundTrip(t *testing.T) {
	line, err := EncodeResultLine(Outcome{Kind: KindSkipped, Duration: 2500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"SKIPPED","duration":2.5}`, string(line))

	o, err := DecodeResultLine(line)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: KindSkipped, Duration: 2500 * time.Millisecond}, o)

	_, err = EncodeResultLine(Outcome{Kind: "bogus"})
	require.Error(t, err)
}

func TestSplitResultLine(t *testing.T) {
	stdout := []byte("line one\n  indented two\n\n{\"kind\":\"PASSED\",\"duration\":0.1}\n")
	output, last := SplitResultLine(stdout)
	assert.Equal(t, "line one\n  indented two", string(output))
	assert.Equal(t, `{"kind":"PASSED","duration":0.1}`, string(last))

	output, last = SplitResultLine([]byte(`{"kind":"PASSED","duration":0.1}`))
	assert.Nil(t, output)
	assert.Equal(t, `{"kind":"PASSED","duration":0.1}`, string(last))

	output, last = SplitResultLine(nil)
	assert.Nil(t, output)
	assert.Empty(t, last)
}

func TestKindClassification(t *testing.T) {
	for _, k := range AllKinds {
		assert.True(t, k.IsValid(), "kind %s", k)
	}
	assert.False(t, Kind("").IsValid())
	assert.True(t, KindFailed.IsBad())
	assert.True(t, KindChildError.IsBad())
	assert.False(t, KindEnvChanged.IsBad())
	assert.False(t, KindSkipped.IsBad())
}
