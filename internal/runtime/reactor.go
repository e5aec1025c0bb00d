package runtime

import (
	"github.com/roach88/quartz/internal/tags"
)

// Reactor is a container of state, triggers, ports, and reactions. The
// state value plays the role of the reactor's self struct: reaction
// bodies reach it through Reaction.Reactor().State().
type Reactor struct {
	name      string
	rt        *Runtime
	state     any
	reactions []*Reaction
	id        int
	traceID   uint64
}

// Name returns the reactor's name.
func (r *Reactor) Name() string { return r.name }

// State returns the reactor's state value.
func (r *Reactor) State() any { return r.state }

// SetState installs the reactor's state value. Call before Run.
func (r *Reactor) SetState(state any) { r.state = state }

// NewReactor registers a reactor with the runtime. The graph is fixed
// once Run starts; all builder calls must happen before it.
func (rt *Runtime) NewReactor(name string) *Reactor {
	r := &Reactor{name: name, rt: rt, id: len(rt.reactors)}
	r.traceID = rt.registerTraceObject("reactor " + name)
	rt.reactors = append(rt.reactors, r)
	return r
}

// newTrigger registers a trigger owned by the reactor.
func (r *Reactor) newTrigger(name string, kind Kind) *Trigger {
	rt := r.rt
	t := &Trigger{
		name:    r.name + "." + name,
		kind:    kind,
		lastTag: tags.Never,
		reactor: r,
		id:      len(rt.triggers),
	}
	t.traceID = rt.registerTraceObject("trigger " + t.name)
	rt.triggers = append(rt.triggers, t)
	return t
}

// NewLogicalAction declares a logical action with the given minimum
// delay. Schedule calls add the action's minimum delay to their extra
// delay when computing the event tag.
func (r *Reactor) NewLogicalAction(name string, minDelay tags.Interval, opts ...ActionOption) *Trigger {
	t := r.newTrigger(name, LogicalAction)
	t.minDelay = minDelay
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewPhysicalAction declares a physical action. Its events are stamped
// with the physical clock and may be scheduled from any goroutine.
func (r *Reactor) NewPhysicalAction(name string, minDelay tags.Interval, opts ...ActionOption) *Trigger {
	t := r.newTrigger(name, PhysicalAction)
	t.minDelay = minDelay
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTimer declares a timer that first fires at start+offset and then
// every period. A zero period makes the timer fire exactly once.
func (r *Reactor) NewTimer(name string, offset, period tags.Interval) *Trigger {
	t := r.newTrigger(name, TimerTrigger)
	t.offset = offset
	t.period = period
	return t
}

// AddReaction registers a reaction at the given dependency level with
// the given triggering sources. Sources may be *Trigger or *Port
// values; a reaction with no sources never fires.
func (r *Reactor) AddReaction(level int, fn ReactionFunc, sources []any, opts ...ReactionOption) *Reaction {
	rt := r.rt
	rx := &Reaction{
		reactor:     r,
		fn:          fn,
		level:       level,
		chain:       ^uint64(0),
		number:      len(rt.reactions),
		lastInvoked: tags.Never,
		pos:         -1,
	}
	for _, opt := range opts {
		opt(rx)
	}
	for _, src := range sources {
		switch s := src.(type) {
		case *Trigger:
			s.reactions = append(s.reactions, rx)
		case *Port:
			s.reactions = append(s.reactions, rx)
		default:
			panic(&Error{Code: ErrCodeBadGraph, Message: "reaction source must be *Trigger or *Port"})
		}
	}
	r.reactions = append(r.reactions, rx)
	rt.reactions = append(rt.reactions, rx)
	return rx
}

// Startup returns the runtime's startup pseudo-trigger. Reactions
// registered against it fire once at the first tag of the execution.
func (rt *Runtime) Startup() *Trigger {
	if rt.startup == nil {
		rt.startup = &Trigger{
			name:    "startup",
			kind:    StartupTrigger,
			lastTag: tags.Never,
			id:      len(rt.triggers),
		}
		rt.startup.traceID = rt.registerTraceObject("trigger startup")
		rt.triggers = append(rt.triggers, rt.startup)
	}
	return rt.startup
}

// Shutdown returns the runtime's shutdown pseudo-trigger. Reactions
// registered against it fire once at the stop tag.
func (rt *Runtime) Shutdown() *Trigger {
	if rt.shutdown == nil {
		rt.shutdown = &Trigger{
			name:    "shutdown",
			kind:    ShutdownTrigger,
			lastTag: tags.Never,
			id:      len(rt.triggers),
		}
		rt.shutdown.traceID = rt.registerTraceObject("trigger shutdown")
		rt.triggers = append(rt.triggers, rt.shutdown)
	}
	return rt.shutdown
}
