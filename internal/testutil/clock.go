package testutil

import (
	"sync"
	"time"
)

// StepClock is a thread-safe wall clock for tests that advances by a fixed
// step on every reading.
//
// Two runs that read the clock in the same order observe identical times,
// which keeps stored timestamps and golden traces reproducible.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	now   time.Time
}

// NewStepClock creates a clock whose first Now returns start.
// A zero step freezes the clock.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start, step: step, now: start}
}

// Now returns the current time and then advances the clock by one step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the time the next Now will report, without advancing.
func (c *StepClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *StepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset moves the clock back to its start.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
