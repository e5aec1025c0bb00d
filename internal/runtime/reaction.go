package runtime

import (
	"github.com/roach88/quartz/internal/tags"
)

// Status tracks a reaction's position in its activation lifecycle.
type Status int

const (
	// Inactive: not triggered at the current tag.
	Inactive Status = iota
	// Queued: triggered and waiting on the reaction queue.
	Queued
	// Running: currently executing on a worker.
	Running
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Queued:
		return "queued"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// ReactionFunc is the body of a reaction. It runs outside the runtime
// critical section; it re-enters it only through the Schedule family
// and port set operations.
type ReactionFunc func(rt *Runtime, r *Reaction)

// Reaction is a statically known unit of work. Reactions live for the
// whole program; only their queued bit and status toggle per
// activation.
//
// Level is the reaction's topological depth in the dependency DAG.
// Within a tag, all reactions at level L complete before any reaction
// at a level greater than L starts. Chain is a bitmask marking the
// dependency chains the reaction belongs to: two same-level reactions
// may run concurrently only when their chain masks are disjoint.
type Reaction struct {
	reactor *Reactor
	fn      ReactionFunc

	level    int
	deadline tags.Interval // 0 means no deadline
	chain    uint64
	number   int // global index, deterministic tie-break and trace id

	deadlineHandler ReactionFunc

	status   Status
	enqueued bool
	pos      int // heap index, maintained by the reaction queue

	// lastInvoked records the tag of the current invocation; the
	// deadline check and the trace records read it.
	lastInvoked tags.Tag
}

// Reactor returns the reactor owning this reaction.
func (r *Reaction) Reactor() *Reactor { return r.reactor }

// Level returns the reaction's topological depth.
func (r *Reaction) Level() int { return r.level }

// Deadline returns the reaction's relative deadline, 0 for none.
func (r *Reaction) Deadline() tags.Interval { return r.deadline }

// Chain returns the reaction's chain bitmask.
func (r *Reaction) Chain() uint64 { return r.chain }

// Number returns the reaction's global index.
func (r *Reaction) Number() int { return r.number }

// Status returns the reaction's current lifecycle state.
func (r *Reaction) Status() Status { return r.status }

// deadlineKey maps the reaction's deadline onto the queue ordering:
// no deadline sorts after every finite one.
func (r *Reaction) deadlineKey() tags.Interval {
	if r.deadline == 0 {
		return tags.ForeverTime
	}
	return r.deadline
}

// ReactionOption configures a reaction at construction.
type ReactionOption func(*Reaction)

// WithDeadline sets the reaction's relative deadline and the handler
// invoked by CheckDeadline when it is missed. The handler may be nil.
func WithDeadline(d tags.Interval, handler ReactionFunc) ReactionOption {
	return func(r *Reaction) {
		r.deadline = d
		r.deadlineHandler = handler
	}
}

// WithChain marks the dependency chains the reaction belongs to. The
// default mask has all bits set, which serializes the reaction against
// every other reaction at its level; disjoint masks enable same-level
// parallelism.
func WithChain(mask uint64) ReactionOption {
	return func(r *Reaction) { r.chain = mask }
}
