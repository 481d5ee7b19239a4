// Package testutil holds shared test helpers.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a thread-safe manually-advanced wall clock for tests.
//
// Pass its Now method wherever a `func() time.Time` clock is injected, then
// drive time explicitly with Advance/Set. This keeps wait-duration and
// timestamp assertions exact instead of sleep-based.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

// Now returns the current fake instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
//
// Monotonic by convention: tests should only pass non-negative durations.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to the given instant.
func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}
