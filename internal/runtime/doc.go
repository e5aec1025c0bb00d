// Package runtime implements the quartz reactor execution engine.
//
// The engine executes a fixed graph of reactors whose reactions fire in
// response to timed events. Outputs propagate over statically known
// port connections, and determinism is preserved by advancing a logical
// clock in (time, microstep) tags while worker goroutines execute
// independent reactions in parallel.
//
// ARCHITECTURE:
//
// Two priority queues drive execution. The event queue orders future
// events by tag; the reaction queue orders triggered reactions by
// dependency level and, within a level, by deadline (earliest deadline
// first). The main loop repeatedly pops every event at the next tag,
// converts each into reaction enqueues, lets the workers drain the
// reaction queue subject to level ordering, and then advances the
// logical clock.
//
// Critical-section discipline:
// A single mutex protects the event queue, the reaction queue, the
// current tag, and all shared trigger state. Reaction bodies run
// outside the critical section; they re-enter it only through the
// Schedule family and the port set operations. Two condition variables
// coordinate the workers: eventsChanged (new events, physical actions,
// stop requests) and reactionsChanged (new work, level advances,
// reaction completions).
//
// Determinism:
// Within a tag, reactions at lower levels complete before any reaction
// at a higher level starts. Same-level reactions run concurrently only
// when their chain bitmasks are disjoint. Queue tie-breaks use stable
// integer identities, never map iteration or pointer values, so the
// same graph and the same inputs produce the same execution order.
package runtime
