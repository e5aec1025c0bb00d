package runtime

import "container/heap"

// reactionQueue is a min-heap of triggered reactions. The composite key
// orders by dependency level first and deadline second, which yields
// earliest-deadline-first dispatch among reactions at the same level.
// Reaction number is the final tie-break so extraction order is stable.
// All operations happen inside the runtime critical section.
type reactionQueue struct {
	items []*Reaction
}

func (q *reactionQueue) Len() int { return len(q.items) }

func (q *reactionQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.level != b.level {
		return a.level < b.level
	}
	if ad, bd := a.deadlineKey(), b.deadlineKey(); ad != bd {
		return ad < bd
	}
	return a.number < b.number
}

func (q *reactionQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].pos = i
	q.items[j].pos = j
}

func (q *reactionQueue) Push(x any) {
	r := x.(*Reaction)
	r.pos = len(q.items)
	q.items = append(q.items, r)
}

func (q *reactionQueue) Pop() any {
	n := len(q.items)
	r := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	r.pos = -1
	return r
}

func (q *reactionQueue) push(r *Reaction) { heap.Push(q, r) }

func (q *reactionQueue) pop() *Reaction { return heap.Pop(q).(*Reaction) }

func (q *reactionQueue) peek() *Reaction { return q.items[0] }

// remove deletes a specific queued reaction.
func (q *reactionQueue) remove(r *Reaction) {
	if r.pos >= 0 {
		heap.Remove(q, r.pos)
	}
}

// removeMatching removes every queued reaction satisfying pred and
// returns how many were removed. Used for the rare cancellation paths
// (a mode switch cancelling reactions queued by a deactivated mode).
func (q *reactionQueue) removeMatching(pred func(*Reaction) bool) int {
	removed := 0
	for i := 0; i < len(q.items); {
		if pred(q.items[i]) {
			r := heap.Remove(q, i).(*Reaction)
			r.enqueued = false
			r.status = Inactive
			removed++
			continue
		}
		i++
	}
	return removed
}
