package runtime

import (
	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/token"
	"github.com/roach88/quartz/internal/trace"
)

// Schedule inserts a future event for the action with no payload. The
// event tag is the current logical tag plus the action's minimum delay
// plus offset; when both are zero the event lands one microstep beyond
// the current tag. Physical actions are stamped with the physical clock
// instead.
//
// Returns a handle greater than zero on success, 0 if the event was
// intentionally dropped (stop requested with a positive offset, tag
// beyond the stop tag, spacing violation under the drop policy, or a
// nil trigger), and -1 on error.
func (rt *Runtime) Schedule(t *Trigger, offset tags.Interval) Handle {
	return rt.ScheduleToken(t, offset, nil)
}

// ScheduleInt wraps an integer value in a token and schedules it.
func (rt *Runtime) ScheduleInt(t *Trigger, extraDelay tags.Interval, value int) Handle {
	if t == nil {
		return rt.ScheduleToken(nil, extraDelay, nil)
	}
	tok := rt.pool.Create(8)
	tok = rt.pool.InitializeWithValue(tok, value, 1)
	return rt.ScheduleToken(t, extraDelay, tok)
}

// ScheduleCopy copies the value into a new token and schedules it.
// Byte-slice payloads are cloned; other values are copied by
// assignment. Length is the element count, 1 for a scalar.
func (rt *Runtime) ScheduleCopy(t *Trigger, offset tags.Interval, value any, length int) Handle {
	if t == nil {
		return rt.ScheduleToken(nil, offset, nil)
	}
	if b, ok := value.([]byte); ok {
		dup := make([]byte, len(b))
		copy(dup, b)
		value = dup
	}
	tok := rt.pool.Create(t.elementSize)
	tok = rt.pool.InitializeWithValue(tok, value, length)
	return rt.ScheduleToken(t, offset, tok)
}

// ScheduleValue schedules a token adopting the given value without
// copying. Disposal is delegated to the runtime: the value is released
// through the token's destructor when the last holder drops it.
func (rt *Runtime) ScheduleValue(t *Trigger, extraDelay tags.Interval, value any, length int) Handle {
	if t == nil {
		return rt.ScheduleToken(nil, extraDelay, nil)
	}
	tok := rt.pool.Create(t.elementSize)
	tok = rt.pool.InitializeWithValue(tok, value, length)
	return rt.ScheduleToken(t, extraDelay, tok)
}

// ScheduleToken is the primitive the rest of the schedule family
// funnels into. The call acquires its own reference to the token, so a
// fresh token and a token still held by a trigger or port may both be
// passed as is. On any drop path that reference is released, which
// disposes the payload of a fresh token.
//
// Safe from any goroutine for physical actions. Logical actions should
// only be scheduled from within a reaction invocation; an asynchronous
// call is diagnosed at debug level and its semantics are undefined.
func (rt *Runtime) ScheduleToken(t *Trigger, extraDelay tags.Interval, tok *token.Token) Handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.scheduleLocked(t, extraDelay, tok)
}

// scheduleLocked implements the scheduling protocol. Caller holds
// rt.mu.
func (rt *Runtime) scheduleLocked(t *Trigger, extraDelay tags.Interval, tok *token.Token) Handle {
	if tok != nil {
		tok.IncRef() // claim the reference this call owns
	}
	drop := func() Handle {
		if tok != nil {
			tok.DecRef()
		}
		rt.stats.EventsDropped++
		return 0
	}

	if t == nil {
		rt.logger.Warn("schedule called with nil trigger")
		return drop()
	}
	switch t.kind {
	case LogicalAction, PhysicalAction:
	default:
		// Timers and the startup/shutdown pseudo-triggers are armed by
		// the runtime itself.
		rt.logger.Error("schedule called on non-action trigger",
			"trigger", t.name, "kind", t.kind.String())
		if tok != nil {
			tok.DecRef()
		}
		return -1
	}
	if t.kind == LogicalAction && rt.started && rt.numRunning == 0 && !rt.advancing {
		rt.logger.Debug("logical action scheduled outside a reaction invocation",
			"trigger", t.name)
	}

	delay := tags.AddTime(t.minDelay, extraDelay)

	// Stop bounds future work: once a stop is requested, only zero-offset
	// events (same-instant completions) are accepted.
	if rt.stopRequested && delay > 0 {
		rt.logger.Debug("schedule dropped: stop requested", "trigger", t.name)
		return drop()
	}

	var tg tags.Tag
	switch t.kind {
	case LogicalAction:
		tg = tags.Delay(rt.currentTag, delay)
	case PhysicalAction:
		// The delay applies on top of whichever is later, the physical
		// clock or the current logical time.
		base := rt.clock.Now()
		if rt.currentTag.Time > base {
			base = rt.currentTag.Time
		}
		tg = tags.Tag{Time: tags.AddTime(base, delay), Microstep: 0}
		if !tg.After(rt.currentTag) {
			tg = tags.Delay(rt.currentTag, 0)
		}
	}

	// Minimum interarrival time enforcement.
	if t.minSpacing > 0 && t.lastTag != tags.Never {
		earliest := tags.Tag{Time: tags.AddTime(t.lastTag.Time, t.minSpacing)}
		if tg.Before(earliest) {
			switch t.policy {
			case DropPolicy:
				rt.logger.Debug("schedule dropped: below minimum spacing",
					"trigger", t.name, "tag", tg.String(), "earliest", earliest.String())
				return drop()
			case DeferPolicy:
				tg = earliest
			case ReplacePolicy:
				if pending := rt.eventQ.pendingFor(t, rt.currentTag); pending != nil {
					rt.replaceWithSpacerLocked(pending)
					tg = tags.Max(tg, earliest)
				} else {
					tg = earliest
				}
			}
		}
	}

	if tg.After(rt.stopTag) {
		rt.logger.Debug("schedule dropped: beyond stop tag",
			"trigger", t.name, "tag", tg.String(), "stop", rt.stopTag.String())
		return drop()
	}
	if tg.Before(rt.currentTag) {
		panic(&Error{Code: ErrCodeQueueInvariant,
			Message: "scheduled event tag earlier than current tag"})
	}

	// Same-tag coexistence: chain after queued events for this trigger,
	// one microstep at a time, preserving the FIFO order of calls.
	for rt.eventQ.occupied(t, tg) {
		tg = tags.Delay(tg, 0)
		if tg.After(rt.stopTag) {
			return drop()
		}
	}

	rt.eventQ.push(&event{tag: tg, trigger: t, tok: tok})
	t.lastTag = tg
	rt.handleCounter++
	rt.tracepoint(-1, trace.ScheduleCalled, t.reactorTraceID(), rt.currentTag, -1, -1, t.traceID, extraDelay)
	rt.eventsChanged.Broadcast()
	return rt.handleCounter
}

// replaceWithSpacerLocked removes a pending event under the replace
// policy, releasing its payload, and leaves a dummy spacer at its tag
// so that later same-tag schedule calls still chain after the reserved
// slot.
func (rt *Runtime) replaceWithSpacerLocked(ev *event) {
	rt.eventQ.remove(ev)
	if ev.tok != nil {
		ev.tok.DecRef()
	}
	rt.eventQ.push(&event{tag: ev.tag, trigger: ev.trigger, dummy: true})
}

// rearmTimerLocked inserts the next firing of a timer, bypassing the
// action scheduling protocol. Caller holds rt.mu.
func (rt *Runtime) rearmTimerLocked(t *Trigger, at tags.Tag) {
	if at.After(rt.stopTag) {
		return
	}
	rt.eventQ.push(&event{tag: at, trigger: t})
	t.lastTag = at
}

// reactorTraceID returns the trace id of the trigger's owning reactor,
// 0 for the startup/shutdown pseudo-triggers.
func (t *Trigger) reactorTraceID() uint64 {
	if t.reactor == nil {
		return 0
	}
	return t.reactor.traceID
}
