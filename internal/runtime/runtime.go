package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/quartz/internal/config"
	"github.com/roach88/quartz/internal/fed"
	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/token"
	"github.com/roach88/quartz/internal/trace"
)

// Handle identifies a successfully scheduled event. Handles are drawn
// from a monotonic per-runtime counter; 0 means the event was
// intentionally dropped and -1 means the call was in error.
type Handle = int64

// Runtime bundles all mutable scheduler state: the event queue, the
// reaction queue, the current tag, and the shared trigger state. It is
// constructed at startup and shared by all workers; there are no
// process-wide globals.
//
// One mutex is the global critical section. Reaction bodies run outside
// it and re-enter it only through Schedule and port operations.
type Runtime struct {
	mu               sync.Mutex
	eventsChanged    *sync.Cond // physical actions, external wakeups
	reactionsChanged *sync.Cond // new work for workers

	opts    config.Options
	clock   Clock
	pool    *token.Pool
	tracer  *trace.Recorder
	adapter fed.Adapter
	logger  *slog.Logger
	runID   string

	reactors []*Reactor
	triggers []*Trigger
	reactions []*Reaction
	ports    []*Port
	startup  *Trigger
	shutdown *Trigger

	eventQ    eventQueue
	reactionQ reactionQueue

	started       bool
	terminated    bool
	startTime     tags.Instant
	currentTag    tags.Tag
	stopTag       tags.Tag
	stopRequested bool
	shutdownFired bool
	stpOffset     tags.Interval
	handleCounter Handle

	// Worker coordination.
	numWorkers     int
	executingLevel int
	numRunning     int
	runningChains  uint64
	advancing      bool

	// Present-at-current-tag bookkeeping, cleared at each tag boundary.
	presentTriggers []*Trigger
	presentPorts    []*Port

	nextObjectID uint64

	stats Stats
}

// Stats counts observable runtime activity.
type Stats struct {
	ReactionsInvoked int64
	EventsProcessed  int64
	EventsDropped    int64
	TagsAdvanced     int64
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithClock substitutes the physical clock. Pair non-system clocks with
// fast mode.
func WithClock(c Clock) Option {
	return func(rt *Runtime) { rt.clock = c }
}

// WithTracer installs a trace recorder. Must be set at construction so
// that graph objects built afterwards land in the trace object table.
func WithTracer(t *trace.Recorder) Option {
	return func(rt *Runtime) { rt.tracer = t }
}

// WithAdapter substitutes the federation adapter. The default local
// adapter grants every tag immediately.
func WithAdapter(a fed.Adapter) Option {
	return func(rt *Runtime) { rt.adapter = a }
}

// WithLogger substitutes the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// New creates a runtime with the given options. The reactor graph is
// then built with NewReactor, the trigger and port constructors, and
// Connect, after which Run executes it.
func New(opts config.Options, options ...Option) *Runtime {
	opts.Normalize()
	rt := &Runtime{
		opts:       opts,
		clock:      SystemClock(),
		pool:       token.NewPool(),
		adapter:    fed.NewLocal(),
		logger:     slog.Default(),
		runID:      uuid.Must(uuid.NewV7()).String(),
		numWorkers: opts.Workers,
		stopTag:    tags.Forever,
		stpOffset:  tags.Interval(opts.STPOffset),
	}
	rt.eventsChanged = sync.NewCond(&rt.mu)
	rt.reactionsChanged = sync.NewCond(&rt.mu)
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

// ID returns the execution's UUIDv7 run identifier.
func (rt *Runtime) ID() string { return rt.runID }

// Pool returns the runtime's token pool.
func (rt *Runtime) Pool() *token.Pool { return rt.pool }

// Reactors returns the registered reactors in creation order.
func (rt *Runtime) Reactors() []*Reactor { return rt.reactors }

// CurrentTag returns the tag currently being processed.
func (rt *Runtime) CurrentTag() tags.Tag {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.currentTag
}

// StartTime returns the physical instant at which Run started, which is
// also the first logical instant.
func (rt *Runtime) StartTime() tags.Instant {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.startTime
}

// GetSTPOffset returns the safe-to-process offset applied in federated
// execution.
func (rt *Runtime) GetSTPOffset() tags.Interval {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stpOffset
}

// SetSTPOffset sets the safe-to-process offset. Negative offsets are
// ignored.
func (rt *Runtime) SetSTPOffset(offset tags.Interval) {
	if offset < 0 {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stpOffset = offset
}

// Stats returns a snapshot of the runtime's activity counters.
func (rt *Runtime) Stats() Stats {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stats
}

// Run executes the reactor graph to completion: until the event queue
// is exhausted (keepalive off), the stop tag is reached, or a stop is
// requested. Cancelling ctx requests a stop.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return &Error{Code: ErrCodeBadGraph, Message: "Run called twice"}
	}
	rt.started = true
	rt.startTime = rt.clock.Now()
	rt.currentTag = tags.Tag{Time: rt.startTime}
	if rt.opts.Timeout > 0 {
		rt.stopTag = tags.Tag{Time: tags.AddTime(rt.startTime, int64(rt.opts.Timeout))}
	}
	if rt.stopRequested {
		// A stop requested before Run bounds the execution to its first
		// instant.
		rt.stopTag = tags.Min(rt.stopTag, tags.Delay(rt.currentTag, 0))
	}
	rt.seedLocked()
	workers := rt.numWorkers
	rt.mu.Unlock()

	if rt.tracer != nil {
		if err := rt.tracer.Start(rt.startTime); err != nil {
			return fmt.Errorf("start trace: %w", err)
		}
	}

	rt.logger.Info("runtime starting",
		"run_id", rt.runID,
		"workers", workers,
		"timeout", rt.opts.Timeout,
		"fast", rt.opts.Fast,
		"keepalive", rt.opts.Keepalive,
	)

	watchDone := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				rt.RequestStop()
			case <-watchDone:
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rt.worker(id)
		}(i)
	}
	wg.Wait()
	close(watchDone)

	rt.mu.Lock()
	rt.resetStepLocked()
	dropped := rt.drainEventsLocked()
	final := rt.currentTag
	stats := rt.stats
	rt.mu.Unlock()

	if rt.tracer != nil {
		if err := rt.tracer.Stop(); err != nil {
			return fmt.Errorf("stop trace: %w", err)
		}
	}

	rt.logger.Info("runtime stopped",
		"run_id", rt.runID,
		"final_tag", final.String(),
		"reactions_invoked", stats.ReactionsInvoked,
		"events_processed", stats.EventsProcessed,
		"events_drained", dropped,
	)
	return nil
}

// seedLocked populates the event queue with the startup event and the
// first firing of every timer. Caller holds rt.mu.
func (rt *Runtime) seedLocked() {
	if rt.startup != nil && len(rt.startup.reactions) > 0 {
		rt.eventQ.push(&event{tag: rt.currentTag, trigger: rt.startup})
	}
	for _, t := range rt.triggers {
		if t.kind != TimerTrigger || len(t.reactions) == 0 {
			continue
		}
		first := tags.Tag{Time: tags.AddTime(rt.startTime, t.offset)}
		if first.After(rt.stopTag) {
			continue
		}
		rt.eventQ.push(&event{tag: first, trigger: t})
	}
}

// enqueueReactionsLocked marks the given reactions queued at the
// current tag and inserts the ones not already queued. Caller holds
// rt.mu.
func (rt *Runtime) enqueueReactionsLocked(reactions []*Reaction) {
	for _, r := range reactions {
		if r.enqueued {
			continue
		}
		r.enqueued = true
		r.status = Queued
		rt.reactionQ.push(r)
	}
}

// resetStepLocked clears present triggers and ports from the previous
// tag, releasing the references they held. Caller holds rt.mu.
func (rt *Runtime) resetStepLocked() {
	for _, t := range rt.presentTriggers {
		t.present = false
		if t.tok != nil {
			t.tok.DecRef()
			t.tok = nil
		}
	}
	rt.presentTriggers = rt.presentTriggers[:0]
	for _, p := range rt.presentPorts {
		p.present = false
		p.value = nil
		if p.tok != nil {
			p.tok.DecRef()
			p.tok = nil
		}
	}
	rt.presentPorts = rt.presentPorts[:0]
}

// drainEventsLocked discards every remaining event, releasing payload
// references, and returns the count. Caller holds rt.mu.
func (rt *Runtime) drainEventsLocked() int {
	n := 0
	for rt.eventQ.Len() > 0 {
		ev := rt.eventQ.pop()
		if ev.tok != nil {
			ev.tok.DecRef()
		}
		n++
	}
	return n
}

// registerTraceObject assigns a stable object id and, when tracing is
// enabled, records it in the trace object table.
func (rt *Runtime) registerTraceObject(desc string) uint64 {
	rt.nextObjectID++
	id := rt.nextObjectID
	if rt.tracer != nil {
		rt.tracer.RegisterObject(id, desc)
	}
	return id
}

// RegisterUserTraceEvent registers a user-defined trace event
// description and returns the id to pass to TracepointUserEvent and
// TracepointUserValue. Call before Run.
func (rt *Runtime) RegisterUserTraceEvent(desc string) uint64 {
	return rt.registerTraceObject(desc)
}

// TracepointUserEvent emits a user-defined trace event at the current
// tag.
func (rt *Runtime) TracepointUserEvent(id uint64) {
	rt.tracepoint(-1, trace.UserEvent, id, rt.CurrentTag(), -1, -1, 0, 0)
}

// TracepointUserValue emits a user-defined trace event carrying a
// value. The value travels in the record's extra-delay field.
func (rt *Runtime) TracepointUserValue(id uint64, value int64) {
	rt.tracepoint(-1, trace.UserValue, id, rt.CurrentTag(), -1, -1, 0, value)
}

// tracepoint emits one trace record, nil-safe when tracing is off.
func (rt *Runtime) tracepoint(worker int, et trace.EventType, pointer uint64, tg tags.Tag, src, dst int32, trigger uint64, extra int64) {
	if rt.tracer == nil {
		return
	}
	rt.tracer.Tracepoint(worker, trace.Record{
		EventType:    et,
		Pointer:      pointer,
		SrcID:        src,
		DstID:        dst,
		LogicalTime:  tg.Time,
		Microstep:    tg.Microstep,
		PhysicalTime: rt.clock.Now(),
		Trigger:      trigger,
		ExtraDelay:   extra,
	})
}

// Snapshot renders the state of both queues for debugging.
func (rt *Runtime) Snapshot() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "current tag %s, stop tag %s\n", rt.currentTag, rt.stopTag)

	evs := make([]*event, len(rt.eventQ.items))
	copy(evs, rt.eventQ.items)
	sort.Slice(evs, func(i, j int) bool {
		if c := tags.Compare(evs[i].tag, evs[j].tag); c != 0 {
			return c < 0
		}
		return evs[i].seq < evs[j].seq
	})
	fmt.Fprintf(&b, "event queue (%d):\n", len(evs))
	for _, ev := range evs {
		kind := "event"
		if ev.dummy {
			kind = "dummy"
		}
		fmt.Fprintf(&b, "  %s %s trigger=%s\n", kind, ev.tag, ev.trigger.name)
	}

	rs := make([]*Reaction, len(rt.reactionQ.items))
	copy(rs, rt.reactionQ.items)
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].level != rs[j].level {
			return rs[i].level < rs[j].level
		}
		return rs[i].number < rs[j].number
	})
	fmt.Fprintf(&b, "reaction queue (%d):\n", len(rs))
	for _, r := range rs {
		fmt.Fprintf(&b, "  reaction %d level=%d reactor=%s\n", r.number, r.level, r.reactor.name)
	}
	return b.String()
}
