// Package harness runs reactor scenarios deterministically and
// snapshots their event traces for golden-file comparison.
//
// A scenario executes on one worker with a frozen clock in fast mode,
// so tag advancement, reaction order, and schedule calls are identical
// on every run. Physical timestamps and worker-wait records are
// stripped from the snapshot because they are the only nondeterministic
// parts of a trace.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/quartz/internal/config"
	"github.com/roach88/quartz/internal/runtime"
	"github.com/roach88/quartz/internal/testutil"
	"github.com/roach88/quartz/internal/trace"
)

// StartTime is the frozen clock reading scenarios start at. Snapshot
// tags are rendered relative to it.
const StartTime = 1_000_000_000

// Scenario defines one deterministic execution.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string

	// Description explains what the scenario validates.
	Description string

	// Options overrides the execution options. Fast mode and a single
	// worker are forced regardless.
	Options config.Options

	// Build constructs the reactor graph. The clock is frozen at
	// StartTime; advance it from reactions when a scenario needs
	// physical lag.
	Build func(rt *runtime.Runtime, clk *testutil.FakeClock)
}

// Result captures a scenario execution.
type Result struct {
	Stats  runtime.Stats
	Events []string
}

// Snapshot renders the deterministic event lines, one per row.
func (r *Result) Snapshot() []byte {
	var b bytes.Buffer
	for _, line := range r.Events {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Run executes the scenario and returns its deterministic trace.
func Run(s *Scenario) (*Result, error) {
	if s.Build == nil {
		return nil, fmt.Errorf("scenario %s has no build function", s.Name)
	}

	var traceBuf bytes.Buffer
	recorder := trace.NewRecorder(&traceBuf)
	clk := testutil.NewFakeClock(StartTime)

	opts := s.Options
	opts.Fast = true
	opts.Workers = 1
	opts.Normalize()

	rt := runtime.New(opts,
		runtime.WithClock(clk),
		runtime.WithTracer(recorder),
	)
	s.Build(rt, clk)

	if err := rt.Run(context.Background()); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	parsed, err := trace.Read(&traceBuf)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: parse trace: %w", s.Name, err)
	}
	return &Result{
		Stats:  rt.Stats(),
		Events: renderEvents(parsed),
	}, nil
}

// renderEvents turns the deterministic subset of a trace into stable
// text lines: logical tags relative to the start, object descriptions
// instead of ids, physical times omitted.
func renderEvents(f *trace.File) []string {
	// File order groups records by flush buffer; tag order is what a
	// reader wants to diff. The sort is stable so per-buffer order
	// survives within a tag.
	recs := make([]trace.Record, len(f.Records))
	copy(recs, f.Records)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].LogicalTime != recs[j].LogicalTime {
			return recs[i].LogicalTime < recs[j].LogicalTime
		}
		return recs[i].Microstep < recs[j].Microstep
	})

	var lines []string
	for _, rec := range recs {
		switch rec.EventType {
		case trace.WorkerWaitStarts, trace.WorkerWaitEnds, trace.AdvancingTimeEnds:
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "(%d, %d) %s", rec.LogicalTime-f.StartTime, rec.Microstep, rec.EventType)
		if desc := f.Description(rec.Pointer); desc != "" {
			fmt.Fprintf(&b, " %s", desc)
		}
		if rec.EventType == trace.ReactionStarts || rec.EventType == trace.ReactionEnds ||
			rec.EventType == trace.ReactionDeadlineMissed {
			fmt.Fprintf(&b, " reaction=%d", rec.DstID)
		}
		if desc := f.Description(rec.Trigger); desc != "" {
			fmt.Fprintf(&b, " trigger=%s", desc)
		}
		if rec.EventType == trace.AdvancingTimeStarts {
			fmt.Fprintf(&b, " to=%d", rec.ExtraDelay-f.StartTime)
		}
		lines = append(lines, b.String())
	}
	return lines
}
