package runtime

import (
	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/trace"
)

// RequestStop asks the runtime to stop at one microstep past the
// current tag, so reactions already triggered at the current tag still
// complete and the shutdown reactions get a tag of their own. The stop
// tag only ever moves earlier; a later request never extends a run.
//
// In federated execution the request is negotiated through the adapter
// and the granted tag, which may be later than the local proposal, is
// adopted. Safe to call from reactions and from external goroutines.
func (rt *Runtime) RequestStop() {
	rt.mu.Lock()
	if rt.terminated {
		rt.mu.Unlock()
		return
	}
	if !rt.started {
		// Run picks this up right after it fixes the start tag.
		rt.stopRequested = true
		rt.mu.Unlock()
		return
	}
	proposed := tags.Delay(rt.currentTag, 0)
	rt.mu.Unlock()

	rt.adapter.SendStopRequest(proposed)
	granted := rt.adapter.AwaitStopGranted(proposed)

	rt.mu.Lock()
	rt.stopRequested = true
	if granted.Before(rt.stopTag) {
		rt.stopTag = granted
	}
	rt.logger.Info("stop requested", "stop_tag", rt.stopTag.String())
	rt.eventsChanged.Broadcast()
	rt.reactionsChanged.Broadcast()
	rt.mu.Unlock()
}

// StopRequested reports whether a stop has been requested.
func (rt *Runtime) StopRequested() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stopRequested
}

// StopTag returns the tag at which the runtime will stop, Forever while
// unbounded.
func (rt *Runtime) StopTag() tags.Tag {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stopTag
}

// CheckDeadline reports whether physical time lags the current tag by
// more than the reaction's deadline. When it does and invokeHandler is
// set, the reaction's deadline handler runs before returning. Intended
// to be called from within the reaction body for long-running work;
// the runtime already performs the same check once before invocation.
func (rt *Runtime) CheckDeadline(r *Reaction, invokeHandler bool) bool {
	if r.deadline <= 0 {
		return false
	}
	rt.mu.Lock()
	tg := rt.currentTag
	rt.mu.Unlock()
	lag := rt.clock.Now() - tg.Time
	if lag <= r.deadline {
		return false
	}
	rt.tracepoint(-1, trace.ReactionDeadlineMissed, r.reactor.traceID, tg, -1, int32(r.number), 0, lag)
	if invokeHandler && r.deadlineHandler != nil {
		r.deadlineHandler(rt, r)
	}
	return true
}
