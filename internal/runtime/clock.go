package runtime

import (
	"time"

	"github.com/roach88/quartz/internal/tags"
)

// Clock is the narrow physical-clock interface the runtime consumes.
// The production implementation reads the system monotonic clock; tests
// substitute a deterministic clock.
//
// When fast mode is off, the runtime sleeps until physical time reaches
// the next tag; that wait uses wall time, so non-system clocks should
// be paired with fast mode.
type Clock interface {
	// Now returns the current physical time in nanoseconds.
	Now() tags.Instant
}

// systemClock reads the wall clock.
type systemClock struct{}

func (systemClock) Now() tags.Instant { return time.Now().UnixNano() }

// SystemClock returns the production clock.
func SystemClock() Clock { return systemClock{} }
