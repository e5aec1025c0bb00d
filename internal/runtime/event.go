package runtime

import (
	"container/heap"

	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/token"
)

// event is a record on the event queue. A dummy event carries no
// reactions; it exists solely to hold a reserved slot in the tag order
// so that later schedule calls for the same trigger chain after it.
type event struct {
	tag     tags.Tag
	trigger *Trigger
	tok     *token.Token
	dummy   bool
	seq     int64 // insertion order, final tie-break
	pos     int   // heap index
}

// eventQueue is a min-heap ordered by tag. Ties are broken by trigger
// identity and then insertion order, which keeps extraction
// deterministic across runs. All operations happen inside the runtime
// critical section.
type eventQueue struct {
	items []*event
	seq   int64
}

func (q *eventQueue) Len() int { return len(q.items) }

func (q *eventQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if c := tags.Compare(a.tag, b.tag); c != 0 {
		return c < 0
	}
	if a.trigger != nil && b.trigger != nil && a.trigger.id != b.trigger.id {
		return a.trigger.id < b.trigger.id
	}
	return a.seq < b.seq
}

func (q *eventQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].pos = i
	q.items[j].pos = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*event)
	ev.pos = len(q.items)
	q.items = append(q.items, ev)
}

func (q *eventQueue) Pop() any {
	n := len(q.items)
	ev := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	ev.pos = -1
	return ev
}

// push inserts an event, stamping its insertion order.
func (q *eventQueue) push(ev *event) {
	q.seq++
	ev.seq = q.seq
	heap.Push(q, ev)
}

// pop removes and returns the earliest event.
func (q *eventQueue) pop() *event {
	return heap.Pop(q).(*event)
}

// peekTag returns the tag of the earliest event without removing it.
// The queue must be non-empty.
func (q *eventQueue) peekTag() tags.Tag {
	return q.items[0].tag
}

// remove deletes the given event from the queue.
func (q *eventQueue) remove(ev *event) {
	heap.Remove(q, ev.pos)
}

// pendingFor returns the earliest queued event for the trigger with a
// tag at or after floor, or nil. Linear scan: the queue is small and
// the call is rare (replace policy only).
func (q *eventQueue) pendingFor(t *Trigger, floor tags.Tag) *event {
	var best *event
	for _, ev := range q.items {
		if ev.trigger != t || ev.tag.Before(floor) {
			continue
		}
		if best == nil || ev.tag.Before(best.tag) {
			best = ev
		}
	}
	return best
}

// occupied reports whether the trigger already has an event (real or
// dummy) queued at exactly the given tag.
func (q *eventQueue) occupied(t *Trigger, at tags.Tag) bool {
	for _, ev := range q.items {
		if ev.trigger == t && ev.tag.Equal(at) {
			return true
		}
	}
	return false
}
