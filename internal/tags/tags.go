// Package tags implements the logical-time lattice of the runtime.
//
// A Tag is a (time, microstep) coordinate. Time is an instant in
// nanoseconds; the microstep orders zero-delay events causally within a
// single instant. Tags are totally ordered lexicographically, and all
// arithmetic saturates rather than overflowing.
//
// NEVER use wall-clock time for ordering. Every event in the runtime is
// stamped with a Tag, and the scheduler only ever advances the current
// tag monotonically.
package tags

import "fmt"

// Instant is a point in logical or physical time, in nanoseconds since
// an arbitrary epoch (normally the runtime's start time).
type Instant = int64

// Interval is a time duration in nanoseconds.
type Interval = int64

// Microstep counts zero-delay advancements within one logical instant.
type Microstep = uint32

const (
	// NeverTime is earlier than every representable instant.
	NeverTime Instant = -0x8000000000000000
	// ForeverTime is later than every representable instant.
	ForeverTime Instant = 0x7FFFFFFFFFFFFFFF
	// MaxMicrostep is the saturation bound for microsteps.
	MaxMicrostep Microstep = 0xFFFFFFFF
)

// Tag is a coordinate in the logical-time lattice.
type Tag struct {
	Time      Instant
	Microstep Microstep
}

// Never sorts before every other tag.
var Never = Tag{Time: NeverTime, Microstep: 0}

// Forever sorts after every other tag.
var Forever = Tag{Time: ForeverTime, Microstep: MaxMicrostep}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
func Compare(a, b Tag) int {
	switch {
	case a.Time < b.Time:
		return -1
	case a.Time > b.Time:
		return 1
	case a.Microstep < b.Microstep:
		return -1
	case a.Microstep > b.Microstep:
		return 1
	default:
		return 0
	}
}

// Before reports whether t sorts strictly before o.
func (t Tag) Before(o Tag) bool { return Compare(t, o) < 0 }

// After reports whether t sorts strictly after o.
func (t Tag) After(o Tag) bool { return Compare(t, o) > 0 }

// Equal reports whether t and o are the same coordinate.
func (t Tag) Equal(o Tag) bool { return t == o }

// AddTime returns a+b with saturation at NeverTime and ForeverTime.
// The sum of two finite instants that would overflow clamps to the
// nearest bound.
func AddTime(a Instant, b Interval) Instant {
	if a == NeverTime || b == NeverTime {
		return NeverTime
	}
	if a == ForeverTime || b == ForeverTime {
		return ForeverTime
	}
	sum := a + b
	// Two's-complement overflow check: operands with the same sign
	// producing a result of the opposite sign.
	if a > 0 && b > 0 && sum < 0 {
		return ForeverTime
	}
	if a < 0 && b < 0 && sum > 0 {
		return NeverTime
	}
	return sum
}

// AddInterval returns the tag at which a periodic trigger re-fires: the
// time advances by d and the microstep resets to zero when d is
// positive. A zero d advances the microstep instead, saturating at
// MaxMicrostep.
func AddInterval(t Tag, d Interval) Tag {
	if d > 0 {
		return Tag{Time: AddTime(t.Time, d), Microstep: 0}
	}
	if t.Microstep == MaxMicrostep {
		return Tag{Time: t.Time, Microstep: MaxMicrostep}
	}
	return Tag{Time: t.Time, Microstep: t.Microstep + 1}
}

// Delay returns the tag of an event scheduled from t with delay d.
// A positive delay moves to (t.Time+d, 0); a zero delay stays at the
// same instant one microstep later. Delaying Never or Forever is a
// fixed point.
func Delay(t Tag, d Interval) Tag {
	if t == Never || t == Forever {
		return t
	}
	if d > 0 {
		return Tag{Time: AddTime(t.Time, d), Microstep: 0}
	}
	if t.Microstep == MaxMicrostep {
		return Tag{Time: t.Time, Microstep: MaxMicrostep}
	}
	return Tag{Time: t.Time, Microstep: t.Microstep + 1}
}

// Min returns the earlier of a and b.
func Min(a, b Tag) Tag {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// Max returns the later of a and b.
func Max(a, b Tag) Tag {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// String renders a tag as "(time, microstep)" for logs and snapshots.
func (t Tag) String() string {
	switch {
	case t == Never:
		return "(NEVER, 0)"
	case t == Forever:
		return "(FOREVER, max)"
	default:
		return fmt.Sprintf("(%d, %d)", t.Time, t.Microstep)
	}
}
