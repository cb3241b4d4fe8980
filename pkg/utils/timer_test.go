package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureOutput struct {
	lines []string
}

func (c *captureOutput) Output(format string, args ...interface{}) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestTimer_Phases(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := NewTimer("load", WithClock(clock))

	pt := timer.Start("parse")
	clock.Advance(30 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, pt.Stop())

	// second stop is ignored
	clock.Advance(time.Second)
	assert.Equal(t, 30*time.Millisecond, pt.Stop())

	_, err := timer.TimeFuncWithError("index", func() error {
		clock.Advance(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	phases := timer.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "parse", phases[0].Name)
	assert.Equal(t, "index", phases[1].Name)
	assert.Equal(t, 5*time.Millisecond, timer.Duration("index"))
	assert.Equal(t, time.Duration(0), timer.Duration("missing"))
	assert.Equal(t, 1035*time.Millisecond, timer.Total())
}

func TestTimer_TimeFuncWithError(t *testing.T) {
	timer := NewTimer("x")
	want := errors.New("boom")
	_, err := timer.TimeFuncWithError("fail", func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestTimer_Disabled(t *testing.T) {
	timer := NewTimer("off", WithEnabled(false))
	assert.Equal(t, time.Duration(0), timer.Start("a").Stop())
	assert.Empty(t, timer.Phases())
	assert.Empty(t, timer.Summary())
	NullTimer.PrintSummary()
}

func TestTimer_PrintSummary(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	out := &captureOutput{}
	timer := NewTimer("index", WithClock(clock), WithOutput(out))
	timer.Start("dex #0").Stop()

	timer.PrintSummary()
	require.Len(t, out.lines, 3)
	assert.Equal(t, "=== index timing ===", out.lines[0])
	assert.Equal(t, "1. dex #0: 0s", out.lines[1])
}

func TestTimer_WithLogger(t *testing.T) {
	logger := NewDefaultLogger(LevelInfo, nil)
	timer := NewTimer("x", WithLogger(logger))
	lo, ok := timer.output.(*LoggerOutput)
	require.True(t, ok)
	assert.Equal(t, logger, lo.Logger)
}
