package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimerOutput receives formatted timing lines.
type TimerOutput interface {
	Output(format string, args ...interface{})
}

// LoggerOutput adapts Logger to TimerOutput.
type LoggerOutput struct {
	Logger Logger
}

// Output implements TimerOutput using Logger.Info.
func (o *LoggerOutput) Output(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Info(format, args...)
	}
}

// Phase is one timed step, e.g. "load" or "index dex #2".
type Phase struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	start    time.Time
	done     bool
}

// PhaseTimer stops a single phase; safe to defer.
type PhaseTimer struct {
	timer *Timer
	name  string
}

// Stop records the phase duration. Only the first call has effect.
func (pt *PhaseTimer) Stop() time.Duration {
	return pt.timer.stop(pt.name)
}

// Timer records named phases in start order.
type Timer struct {
	mu      sync.Mutex
	name    string
	started time.Time
	phases  map[string]*Phase
	order   []string
	output  TimerOutput
	enabled bool
	clock   Clock
}

// TimerOption configures a Timer instance.
type TimerOption func(*Timer)

// WithOutput sets the output strategy for the timer.
func WithOutput(output TimerOutput) TimerOption {
	return func(t *Timer) {
		t.output = output
	}
}

// WithLogger sets a Logger as the output strategy.
func WithLogger(logger Logger) TimerOption {
	return func(t *Timer) {
		if logger != nil {
			t.output = &LoggerOutput{Logger: logger}
		}
	}
}

// WithEnabled toggles recording. A disabled timer is a no-op.
func WithEnabled(enabled bool) TimerOption {
	return func(t *Timer) {
		t.enabled = enabled
	}
}

// WithClock sets a custom clock.
func WithClock(clock Clock) TimerOption {
	return func(t *Timer) {
		t.clock = clock
	}
}

// NewTimer creates a new Timer with the given name and options.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{
		name:    name,
		phases:  make(map[string]*Phase),
		enabled: true,
		clock:   NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.clock.Now()
	return t
}

// Start begins timing phaseName.
func (t *Timer) Start(phaseName string) *PhaseTimer {
	pt := &PhaseTimer{timer: t, name: phaseName}
	if !t.enabled {
		return pt
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.phases[phaseName]; !ok {
		t.order = append(t.order, phaseName)
	}
	t.phases[phaseName] = &Phase{Name: phaseName, start: t.clock.Now()}
	return pt
}

func (t *Timer) stop(phaseName string) time.Duration {
	if !t.enabled {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	phase, ok := t.phases[phaseName]
	if !ok {
		return 0
	}
	if !phase.done {
		phase.Duration = t.clock.Since(phase.start)
		phase.done = true
	}
	return phase.Duration
}

// TimeFuncWithError times fn as phaseName.
func (t *Timer) TimeFuncWithError(phaseName string, fn func() error) (time.Duration, error) {
	pt := t.Start(phaseName)
	err := fn()
	return pt.Stop(), err
}

// Duration returns the recorded duration of phaseName.
func (t *Timer) Duration(phaseName string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if phase, ok := t.phases[phaseName]; ok {
		return phase.Duration
	}
	return 0
}

// Total returns the time elapsed since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.started)
}

// Phases returns copies of all phases in start order.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.phases[name])
	}
	return out
}

// Summary renders all phases as text.
func (t *Timer) Summary() string {
	if !t.enabled {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s timing ===\n", t.name)
	for i, p := range t.Phases() {
		fmt.Fprintf(&sb, "%d. %s: %v\n", i+1, p.Name, p.Duration)
	}
	fmt.Fprintf(&sb, "total: %v\n", t.Total())
	return sb.String()
}

// PrintSummary writes the summary through the configured output.
func (t *Timer) PrintSummary() {
	if !t.enabled || t.output == nil {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(t.Summary(), "\n"), "\n") {
		t.output.Output("%s", line)
	}
}

// NullTimer is a disabled timer.
var NullTimer = NewTimer("null", WithEnabled(false))
