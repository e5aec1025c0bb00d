package runtime

import (
	"github.com/roach88/quartz/internal/trace"
)

// worker is the body of one scheduler goroutine. Workers compete for
// reactions inside the critical section, execute them outside it, and
// the last worker to go idle advances the logical clock. The loop exits
// when the runtime terminates.
func (rt *Runtime) worker(id int) {
	rt.mu.Lock()
	for {
		r := rt.nextReactionLocked(id)
		if r == nil {
			break
		}
		rt.mu.Unlock()
		rt.invoke(id, r)
		rt.mu.Lock()
		rt.completeReactionLocked(r)
	}
	rt.mu.Unlock()
}

// nextReactionLocked blocks until a reaction is available for this
// worker or the runtime terminates. Caller holds rt.mu; the lock is
// released while waiting and held on return. Returns nil on
// termination.
//
// Dispatch discipline: within a tag, reactions execute in level order.
// The executing level only moves forward when no reaction is running,
// so a level acts as a barrier. Among reactions at the executing level,
// the queue yields earliest deadline first, and a reaction is admitted
// only when its chain mask is disjoint from every running reaction's.
func (rt *Runtime) nextReactionLocked(id int) *Reaction {
	for {
		if rt.terminated {
			return nil
		}
		if rt.reactionQ.Len() == 0 {
			if rt.numRunning > 0 || rt.advancing {
				rt.waitForWorkLocked(id)
				continue
			}
			rt.advanceTagLocked(id)
			continue
		}

		if rt.numRunning == 0 {
			rt.executingLevel = rt.reactionQ.peek().level
		} else if rt.reactionQ.peek().level != rt.executingLevel {
			// Level barrier: the head belongs to a later level and must
			// wait for the running reactions to finish.
			rt.waitForWorkLocked(id)
			continue
		}

		r := rt.admitLocked()
		if r == nil {
			// Every reaction at the executing level conflicts with a
			// running chain.
			rt.waitForWorkLocked(id)
			continue
		}
		r.enqueued = false
		r.status = Running
		r.lastInvoked = rt.currentTag
		rt.numRunning++
		rt.runningChains |= r.chain
		rt.stats.ReactionsInvoked++
		return r
	}
}

// admitLocked extracts the first reaction at the executing level whose
// chain mask is disjoint from the running set, or nil when they all
// conflict. Skipped reactions are reinserted.
func (rt *Runtime) admitLocked() *Reaction {
	var skipped []*Reaction
	var picked *Reaction
	for rt.reactionQ.Len() > 0 && rt.reactionQ.peek().level == rt.executingLevel {
		r := rt.reactionQ.pop()
		if r.chain&rt.runningChains == 0 {
			picked = r
			break
		}
		skipped = append(skipped, r)
	}
	for _, r := range skipped {
		rt.reactionQ.push(r)
	}
	return picked
}

// waitForWorkLocked parks the worker on the reaction condition,
// bracketing the wait with trace records.
func (rt *Runtime) waitForWorkLocked(id int) {
	rt.tracepoint(id, trace.WorkerWaitStarts, 0, rt.currentTag, int32(id), -1, 0, 0)
	rt.reactionsChanged.Wait()
	rt.tracepoint(id, trace.WorkerWaitEnds, 0, rt.currentTag, int32(id), -1, 0, 0)
}

// invoke runs one reaction body outside the critical section. When the
// reaction carries a deadline and physical time already lags the
// current tag by more than it, the deadline handler runs instead of the
// body.
func (rt *Runtime) invoke(id int, r *Reaction) {
	tg := r.lastInvoked
	if r.deadline > 0 {
		lag := rt.clock.Now() - tg.Time
		if lag > r.deadline {
			rt.tracepoint(id, trace.ReactionDeadlineMissed, r.reactor.traceID, tg, int32(id), int32(r.number), 0, lag)
			rt.logger.Warn("deadline missed",
				"reactor", r.reactor.name,
				"reaction", r.number,
				"lag", lag,
				"deadline", r.deadline,
			)
			if r.deadlineHandler != nil {
				r.deadlineHandler(rt, r)
			}
			return
		}
	}
	rt.tracepoint(id, trace.ReactionStarts, r.reactor.traceID, tg, int32(id), int32(r.number), 0, 0)
	r.fn(rt, r)
	rt.tracepoint(id, trace.ReactionEnds, r.reactor.traceID, tg, int32(id), int32(r.number), 0, 0)
}

// completeReactionLocked retires a finished reaction and wakes workers
// blocked on the level barrier or a chain conflict. Caller holds rt.mu.
func (rt *Runtime) completeReactionLocked(r *Reaction) {
	r.status = Inactive
	rt.numRunning--
	rt.runningChains &^= r.chain
	rt.reactionsChanged.Broadcast()
}
