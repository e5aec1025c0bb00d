package testutil

import (
	"sync"

	"github.com/roach88/quartz/internal/tags"
)

// FakeClock provides a thread-safe, manually driven physical clock for
// tests. Pair it with fast mode so the runtime never sleeps on the wall
// clock.
//
// Unlike the system clock, FakeClock can be reset for test reuse. This
// lets the same scenario run multiple times with identical physical
// timestamps, which keeps trace output comparable across runs.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type FakeClock struct {
	mu  sync.Mutex
	now tags.Instant
}

// NewFakeClock creates a clock frozen at the given instant.
func NewFakeClock(start tags.Instant) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current instant without advancing it.
func (c *FakeClock) Now() tags.Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative values are ignored so
// the clock stays monotonic.
func (c *FakeClock) Advance(d tags.Interval) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = tags.AddTime(c.now, d)
}

// Set jumps the clock to the given instant when it is later than the
// current one.
func (c *FakeClock) Set(t tags.Instant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}
