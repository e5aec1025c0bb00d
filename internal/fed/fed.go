// Package fed defines the seam between the runtime and a coordinator
// for distributed execution. The runtime calls the adapter at two
// points: before committing a tag advance, and when negotiating a stop.
// The local adapter grants everything immediately, which reduces the
// runtime to standalone execution with zero overhead.
package fed

import (
	"github.com/roach88/quartz/internal/tags"
)

// Adapter mediates tag advancement and stop negotiation with an
// external coordinator. Implementations must be safe for concurrent
// use; WaitForTag and AwaitStopGranted may block on the network and are
// called outside the runtime critical section.
type Adapter interface {
	// NotifyNextEvent tells the coordinator the tag of the earliest
	// local event. Non-blocking.
	NotifyNextEvent(next tags.Tag)

	// WaitForTag blocks until the coordinator grants advancement and
	// returns the granted tag. A grant earlier than the request caps
	// the advance; a grant at or after the request permits it.
	WaitForTag(next tags.Tag) tags.Tag

	// SendStopRequest proposes a stop at the given tag. Non-blocking.
	SendStopRequest(proposed tags.Tag)

	// AwaitStopGranted blocks until the coordinator fixes the stop tag
	// and returns it.
	AwaitStopGranted(proposed tags.Tag) tags.Tag
}

// local grants every request immediately.
type local struct{}

// NewLocal returns the adapter for standalone execution.
func NewLocal() Adapter { return local{} }

func (local) NotifyNextEvent(tags.Tag) {}

func (local) WaitForTag(next tags.Tag) tags.Tag { return next }

func (local) SendStopRequest(tags.Tag) {}

func (local) AwaitStopGranted(proposed tags.Tag) tags.Tag { return proposed }
