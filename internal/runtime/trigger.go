package runtime

import (
	"fmt"

	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/token"
)

// Kind classifies schedulable sources.
type Kind int

const (
	// LogicalAction events carry a tag derived from the current logical
	// time. Logical actions should be scheduled from within a reaction
	// invocation; scheduling one asynchronously is diagnosed in debug
	// logs and is otherwise undefined.
	LogicalAction Kind = iota
	// PhysicalAction events are stamped with the physical clock and may
	// be scheduled from any goroutine.
	PhysicalAction
	// TimerTrigger fires periodically; the runtime re-arms it itself.
	TimerTrigger
	// StartupTrigger fires once at the first tag of the execution.
	StartupTrigger
	// ShutdownTrigger fires once at the stop tag.
	ShutdownTrigger
)

func (k Kind) String() string {
	switch k {
	case LogicalAction:
		return "logical"
	case PhysicalAction:
		return "physical"
	case TimerTrigger:
		return "timer"
	case StartupTrigger:
		return "startup"
	case ShutdownTrigger:
		return "shutdown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SpacingPolicy selects what happens when a schedule call would violate
// a trigger's minimum interarrival time.
type SpacingPolicy int

const (
	// DropPolicy discards the violating event and releases its payload.
	DropPolicy SpacingPolicy = iota
	// DeferPolicy moves the event to the earliest admissible tag.
	DeferPolicy
	// ReplacePolicy removes the pending event for the trigger, releases
	// its payload, and inserts the new event at the later of its own tag
	// and the earliest admissible tag.
	ReplacePolicy
)

func (p SpacingPolicy) String() string {
	switch p {
	case DropPolicy:
		return "drop"
	case DeferPolicy:
		return "defer"
	case ReplacePolicy:
		return "replace"
	default:
		return fmt.Sprintf("SpacingPolicy(%d)", int(p))
	}
}

// Trigger describes a schedulable source: an action, a timer, or one of
// the startup/shutdown pseudo-triggers. A trigger lists the reactions
// it enables when it fires.
//
// All mutable fields are protected by the runtime critical section.
type Trigger struct {
	name        string
	kind        Kind
	minDelay    tags.Interval
	minSpacing  tags.Interval
	policy      SpacingPolicy
	elementSize int

	// Timer parameters.
	offset tags.Interval
	period tags.Interval

	// lastTag is the tag of the most recent successful scheduling,
	// Never until the trigger first fires.
	lastTag tags.Tag

	reactions []*Reaction
	reactor   *Reactor

	id      int    // stable identity for queue tie-breaks
	traceID uint64 // object id in the trace table, 0 when untraced

	// Present-at-current-tag state, valid only while the tag at which
	// the trigger fired is being processed.
	present bool
	tok     *token.Token
}

// Name returns the trigger's name, qualified by its reactor.
func (t *Trigger) Name() string { return t.name }

// Kind returns the trigger's classification.
func (t *Trigger) Kind() Kind { return t.kind }

// MinSpacing returns the trigger's minimum interarrival time.
func (t *Trigger) MinSpacing() tags.Interval { return t.minSpacing }

// Policy returns the trigger's spacing policy.
func (t *Trigger) Policy() SpacingPolicy { return t.policy }

// IsPresent reports whether the trigger fired at the tag currently
// being processed. Valid only from reactions triggered at that tag.
func (t *Trigger) IsPresent() bool { return t.present }

// Value returns the payload carried by the trigger at the current tag,
// or nil when the trigger is absent or carries none.
func (t *Trigger) Value() any {
	if t.tok == nil {
		return nil
	}
	return t.tok.Value()
}

// Token returns the token carried by the trigger at the current tag, or
// nil. The trigger retains its reference; callers forwarding the token
// must add their own with IncRef.
func (t *Trigger) Token() *token.Token { return t.tok }

// LastTag returns the tag of the most recent successful scheduling.
func (t *Trigger) LastTag() tags.Tag { return t.lastTag }

// ActionOption configures an action trigger at construction.
type ActionOption func(*Trigger)

// WithSpacing sets the minimum interarrival time and the policy applied
// when a schedule call would violate it.
func WithSpacing(mit tags.Interval, policy SpacingPolicy) ActionOption {
	return func(t *Trigger) {
		t.minSpacing = mit
		t.policy = policy
	}
}

// WithElementSize declares the payload element size in bytes, used by
// ScheduleCopy to size copied payloads.
func WithElementSize(n int) ActionOption {
	return func(t *Trigger) { t.elementSize = n }
}
