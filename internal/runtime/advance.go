package runtime

import (
	"time"

	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/trace"
)

// advanceTagLocked moves the logical clock to the next tag and pops the
// events at it. Called by the last idle worker when both queues are
// drained; the advancing flag keeps other workers out while the
// condition waits below release the mutex. Caller holds rt.mu.
//
// The call commits at most one tag and returns; the worker loop comes
// back for the next one.
func (rt *Runtime) advanceTagLocked(worker int) {
	rt.advancing = true
	defer func() { rt.advancing = false }()

	for !rt.terminated {
		// After the shutdown reactions at the stop tag have run there is
		// nothing left to execute.
		if rt.shutdownFired && !rt.currentTag.Before(rt.stopTag) {
			rt.terminateLocked()
			return
		}

		var next tags.Tag
		if rt.eventQ.Len() == 0 {
			if rt.opts.Keepalive && !rt.stopRequested {
				// Keepalive: idle until a physical action or a stop
				// request arrives.
				rt.eventsChanged.Wait()
				continue
			}
			// Out of events: fall through to the stop tag so that the
			// shutdown reactions fire.
			rt.stopRequested = true
			rt.stopTag = tags.Min(rt.stopTag, tags.Delay(rt.currentTag, 0))
			next = rt.stopTag
		} else {
			next = tags.Min(rt.eventQ.peekTag(), rt.stopTag)
		}

		if next.Before(rt.currentTag) {
			panic(&Error{Code: ErrCodeQueueInvariant,
				Message: "next tag earlier than current tag"})
		}

		if !rt.opts.Fast && next.Time > rt.clock.Now() {
			if !rt.waitUntilLocked(next.Time) {
				// Woken early: a new event, a stop request, or
				// termination may have changed the picture.
				continue
			}
		}

		rt.adapter.NotifyNextEvent(next)
		granted := rt.waitForTagGrant(next)
		if granted.Before(next) {
			next = granted
		}
		if rt.terminated {
			return
		}
		// State may have shifted while the grant was outstanding.
		if rt.eventQ.Len() > 0 && rt.eventQ.peekTag().Before(next) {
			continue
		}
		if rt.stopTag.Before(next) {
			continue
		}

		if !next.Equal(rt.currentTag) {
			rt.tracepoint(worker, trace.AdvancingTimeStarts, 0, rt.currentTag, int32(worker), -1, 0, next.Time)
			rt.resetStepLocked()
			rt.currentTag = next
			rt.stats.TagsAdvanced++
			rt.tracepoint(worker, trace.AdvancingTimeEnds, 0, rt.currentTag, int32(worker), -1, 0, 0)
		}
		if !rt.shutdownFired && rt.currentTag.Equal(rt.stopTag) {
			rt.triggerShutdownLocked()
		}
		rt.popEventsLocked()
		rt.reactionsChanged.Broadcast()
		return
	}
}

// waitUntilLocked sleeps until physical time reaches target, waking on
// any event queue change. Returns false when woken before the target so
// the caller re-evaluates. Caller holds rt.mu; the lock is released
// while sleeping.
func (rt *Runtime) waitUntilLocked(target tags.Instant) bool {
	d := time.Duration(target - rt.clock.Now())
	timer := time.AfterFunc(d, rt.eventsChanged.Broadcast)
	rt.eventsChanged.Wait()
	timer.Stop()
	return rt.clock.Now() >= target
}

// waitForTagGrant asks the federation adapter for permission to advance
// to next. The grant may block on the network, so the critical section
// is released around it. The local adapter grants immediately.
func (rt *Runtime) waitForTagGrant(next tags.Tag) tags.Tag {
	rt.mu.Unlock()
	granted := rt.adapter.WaitForTag(next)
	rt.mu.Lock()
	return granted
}

// popEventsLocked removes every event at the current tag, transferring
// each payload reference from its event to the trigger, and enqueues
// the triggered reactions. Dummy spacer events release their slot
// silently. Timers re-arm here, bypassing the minimum spacing checks.
// Caller holds rt.mu.
func (rt *Runtime) popEventsLocked() {
	for rt.eventQ.Len() > 0 && rt.eventQ.peekTag().Equal(rt.currentTag) {
		ev := rt.eventQ.pop()
		t := ev.trigger
		if ev.dummy {
			if ev.tok != nil {
				ev.tok.DecRef()
			}
			continue
		}
		rt.stats.EventsProcessed++

		if t.kind == TimerTrigger && t.period > 0 {
			again := tags.Tag{Time: tags.AddTime(ev.tag.Time, t.period)}
			rt.rearmTimerLocked(t, again)
		}

		if !t.present {
			t.present = true
			rt.presentTriggers = append(rt.presentTriggers, t)
		}
		if ev.tok != nil {
			if t.tok != nil {
				t.tok.DecRef()
			}
			t.tok = ev.tok
		}
		rt.enqueueReactionsLocked(t.reactions)
	}
}

// triggerShutdownLocked fires the shutdown pseudo-trigger at the stop
// tag. Caller holds rt.mu.
func (rt *Runtime) triggerShutdownLocked() {
	rt.shutdownFired = true
	rt.stopRequested = true
	if rt.shutdown == nil || len(rt.shutdown.reactions) == 0 {
		return
	}
	rt.shutdown.present = true
	rt.shutdown.lastTag = rt.currentTag
	rt.presentTriggers = append(rt.presentTriggers, rt.shutdown)
	rt.enqueueReactionsLocked(rt.shutdown.reactions)
}

// terminateLocked marks the runtime finished and wakes every parked
// goroutine. Caller holds rt.mu.
func (rt *Runtime) terminateLocked() {
	rt.terminated = true
	rt.eventsChanged.Broadcast()
	rt.reactionsChanged.Broadcast()
}
