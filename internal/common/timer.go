// Package common provides the clock and step timers shared by the
// preprocessing pipeline and the exploration scheduler.
package common

import (
	"fmt"
	"time"
)

// Clock abstracts wall-clock reads so budgets can be driven by tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Timer measures one named step.
type Timer struct {
	clock    Clock
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new unnamed timer on the system clock.
func NewTimer() *Timer {
	return NewTimerWithClock("", SystemClock{})
}

// NewNamedTimer creates a new timer with the given name.
func NewNamedTimer(name string) *Timer {
	return NewTimerWithClock(name, SystemClock{})
}

// NewTimerWithClock creates a named timer reading the given clock.
func NewTimerWithClock(name string, clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{clock: clock, name: name, start: clock.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = t.clock.Now().Sub(t.start)
	return t.duration
}

// Elapsed returns the time since the timer started without stopping it.
func (t *Timer) Elapsed() time.Duration {
	return t.clock.Now().Sub(t.start)
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Milliseconds returns the recorded duration as fractional milliseconds.
func (t *Timer) Milliseconds() float64 {
	return float64(t.duration) / float64(time.Millisecond)
}

// Name returns the timer name (empty string if unnamed).
func (t *Timer) Name() string {
	return t.name
}

// String returns a formatted string representation of the timer.
func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return fmt.Sprintf("%v", t.duration)
}

// Timings maps step names to elapsed milliseconds.
type Timings map[string]float64

// Track starts a timer for step and returns the function that stops it and
// records the result.
func (tm Timings) Track(step string, clock Clock) func() {
	timer := NewTimerWithClock(step, clock)
	return func() {
		timer.Stop()
		tm[step] += timer.Milliseconds()
	}
}

// Total returns the sum of all recorded steps.
func (tm Timings) Total() float64 {
	var sum float64
	for _, v := range tm {
		sum += v
	}
	return sum
}
