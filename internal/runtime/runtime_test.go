package runtime

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quartz/internal/config"
	"github.com/roach88/quartz/internal/tags"
	"github.com/roach88/quartz/internal/testutil"
	"github.com/roach88/quartz/internal/trace"
)

const testStart tags.Instant = 1_000_000

// newTestRuntime builds a runtime on a frozen clock in fast mode, one
// worker unless the options say otherwise.
func newTestRuntime(t *testing.T, opts config.Options, extra ...Option) (*Runtime, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testStart)
	opts.Fast = true
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	rt := New(opts, append([]Option{WithClock(clk)}, extra...)...)
	return rt, clk
}

func TestRun_EmptyGraphStopsImmediately(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	require.NoError(t, rt.Run(context.Background()))
	assert.True(t, rt.StopRequested())
}

func TestRun_Twice(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	require.NoError(t, rt.Run(context.Background()))
	err := rt.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
}

func TestRun_MicrostepChain(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")
	act := main.NewLogicalAction("step", 0)

	var seen []tags.Tag
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		rt.Schedule(act, 0)
	}, []any{rt.Startup()})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		seen = append(seen, rt.CurrentTag())
		if len(seen) < 3 {
			rt.Schedule(act, 0)
		}
	}, []any{act})

	require.NoError(t, rt.Run(context.Background()))

	require.Len(t, seen, 3)
	for i, tg := range seen {
		assert.EqualValues(t, testStart, tg.Time, "superdense steps stay at one instant")
		assert.EqualValues(t, i+1, tg.Microstep)
	}
}

func TestRun_TimerFiresAndRearms(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{Timeout: 100})
	main := rt.NewReactor("main")
	timer := main.NewTimer("tick", 0, 10)

	var fires []tags.Tag
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		fires = append(fires, rt.CurrentTag())
	}, []any{timer})

	var stopTag tags.Tag
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		stopTag = rt.CurrentTag()
	}, []any{rt.Shutdown()})

	require.NoError(t, rt.Run(context.Background()))

	// Offset 0, period 10, timeout 100: eleven firings, the last one
	// sharing the stop tag with shutdown.
	require.Len(t, fires, 11)
	for i, tg := range fires {
		assert.EqualValues(t, testStart+tags.Instant(10*i), tg.Time)
		assert.EqualValues(t, 0, tg.Microstep)
	}
	assert.Equal(t, tags.Tag{Time: testStart + 100}, stopTag)
}

func TestRun_OneShotTimer(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")
	timer := main.NewTimer("once", 5, 0)

	fires := 0
	main.AddReaction(0, func(rt *Runtime, r *Reaction) { fires++ }, []any{timer})

	require.NoError(t, rt.Run(context.Background()))
	assert.Equal(t, 1, fires)
}

func TestRun_PortPropagation(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	src := rt.NewReactor("src")
	dst := rt.NewReactor("dst")
	out := src.NewOutput("out")
	in := dst.NewInput("in")
	rt.Connect(out, in)

	var got any
	var present bool
	src.AddReaction(0, func(rt *Runtime, r *Reaction) {
		out.Set(42)
	}, []any{rt.Startup()})
	dst.AddReaction(1, func(rt *Runtime, r *Reaction) {
		present = in.IsPresent()
		got = in.Get()
	}, []any{in})

	require.NoError(t, rt.Run(context.Background()))
	assert.True(t, present)
	assert.Equal(t, 42, got)
	assert.Zero(t, rt.Pool().Outstanding(), "all token references released")
}

func TestRun_FanOutSharesToken(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	src := rt.NewReactor("src")
	a := rt.NewReactor("a")
	b := rt.NewReactor("b")
	out := src.NewOutput("out")
	inA := a.NewInput("in")
	inB := b.NewInput("in")
	rt.Connect(out, inA)
	rt.Connect(out, inB)

	var tokA, tokB any
	src.AddReaction(0, func(rt *Runtime, r *Reaction) {
		out.SetArray([]byte{1, 2, 3}, 3)
	}, []any{rt.Startup()})
	a.AddReaction(1, func(rt *Runtime, r *Reaction) { tokA = inA.Token() }, []any{inA})
	b.AddReaction(1, func(rt *Runtime, r *Reaction) { tokB = inB.Token() }, []any{inB})

	require.NoError(t, rt.Run(context.Background()))
	require.NotNil(t, tokA)
	assert.Same(t, tokA, tokB, "fan-out shares one token")
	assert.Zero(t, rt.Pool().Outstanding())
}

func TestRun_PortAbsentAfterTagAdvance(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")
	out := main.NewOutput("out")
	act := main.NewLogicalAction("later", 10)

	var presentAtLater bool
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		out.Set("hello")
		rt.Schedule(act, 0)
	}, []any{rt.Startup()})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		presentAtLater = out.IsPresent()
	}, []any{act})

	require.NoError(t, rt.Run(context.Background()))
	assert.False(t, presentAtLater, "presence is cleared at each tag boundary")
}

func TestRun_LevelBarrier(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{Workers: 4})
	main := rt.NewReactor("main")

	var level0Done atomic.Int32
	var violations atomic.Int32
	mk0 := func(chain uint64) ReactionFunc {
		return func(rt *Runtime, r *Reaction) {
			time.Sleep(time.Millisecond)
			level0Done.Add(1)
		}
	}
	main.AddReaction(0, mk0(1), []any{rt.Startup()}, WithChain(1))
	main.AddReaction(0, mk0(2), []any{rt.Startup()}, WithChain(2))
	main.AddReaction(1, func(rt *Runtime, r *Reaction) {
		if level0Done.Load() != 2 {
			violations.Add(1)
		}
	}, []any{rt.Startup()})
	main.AddReaction(1, func(rt *Runtime, r *Reaction) {
		if level0Done.Load() != 2 {
			violations.Add(1)
		}
	}, []any{rt.Startup()})

	require.NoError(t, rt.Run(context.Background()))
	assert.Zero(t, violations.Load(), "no level-1 reaction started before level 0 completed")
	assert.EqualValues(t, 4, rt.Stats().ReactionsInvoked)
}

func TestRun_OverlappingChainsNeverConcurrent(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{Workers: 4})
	main := rt.NewReactor("main")

	var inFlight atomic.Int32
	var overlap atomic.Int32
	body := func(rt *Runtime, r *Reaction) {
		if inFlight.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	}
	// Same chain bit: these three serialize even at the same level.
	for i := 0; i < 3; i++ {
		main.AddReaction(0, body, []any{rt.Startup()}, WithChain(1))
	}

	require.NoError(t, rt.Run(context.Background()))
	assert.Zero(t, overlap.Load())
}

func TestRun_DeadlineOrderWithinLevel(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")

	var order []string
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		order = append(order, "lazy")
	}, []any{rt.Startup()}, WithDeadline(1000, nil))
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		order = append(order, "urgent")
	}, []any{rt.Startup()}, WithDeadline(10, nil))
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		order = append(order, "none")
	}, []any{rt.Startup()})

	require.NoError(t, rt.Run(context.Background()))
	assert.Equal(t, []string{"urgent", "lazy", "none"}, order)
}

func TestRun_DeadlineMissRunsHandler(t *testing.T) {
	rt, clk := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")
	act := main.NewLogicalAction("late", 0)

	var bodyRan, handlerRan bool
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		// Physical time runs ahead of the next tag by far more than the
		// deadline allows.
		clk.Advance(500)
		rt.Schedule(act, 0)
	}, []any{rt.Startup()})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		bodyRan = true
	}, []any{act}, WithDeadline(100, func(rt *Runtime, r *Reaction) {
		handlerRan = true
	}))

	require.NoError(t, rt.Run(context.Background()))
	assert.False(t, bodyRan)
	assert.True(t, handlerRan)
}

func TestCheckDeadline(t *testing.T) {
	rt, clk := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")

	var missedEarly, missedLate bool
	var handlerRan bool
	rx := main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		missedEarly = rt.CheckDeadline(r, false)
		clk.Advance(5000)
		missedLate = rt.CheckDeadline(r, true)
	}, []any{rt.Startup()})
	WithDeadline(1000, func(rt *Runtime, r *Reaction) { handlerRan = true })(rx)

	require.NoError(t, rt.Run(context.Background()))
	assert.False(t, missedEarly)
	assert.True(t, missedLate)
	assert.True(t, handlerRan)
}

func TestRequestStop_OneMicrostepLater(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")
	act := main.NewLogicalAction("next", 0)

	var accepted, rejected Handle
	var actRan bool
	var shutdownTag tags.Tag
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		rt.RequestStop()
		accepted = rt.Schedule(act, 0)
		rejected = rt.Schedule(act, 50)
	}, []any{rt.Startup()})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		actRan = true
	}, []any{act})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		shutdownTag = rt.CurrentTag()
	}, []any{rt.Shutdown()})

	require.NoError(t, rt.Run(context.Background()))

	assert.Positive(t, accepted, "zero-offset event still admitted after stop")
	assert.Zero(t, rejected, "future event dropped after stop")
	assert.True(t, actRan, "event at the stop tag executes alongside shutdown")
	assert.Equal(t, tags.Tag{Time: testStart, Microstep: 1}, shutdownTag)
}

func TestRequestStop_NeverExtends(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{Timeout: 100})
	main := rt.NewReactor("main")
	timer := main.NewTimer("tick", 0, 10)

	fires := 0
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		fires++
		if fires == 3 {
			rt.RequestStop()
		}
	}, []any{timer})

	require.NoError(t, rt.Run(context.Background()))
	assert.Equal(t, 3, fires, "stop at the third firing cuts the timeout short")
	assert.Equal(t, tags.Tag{Time: testStart + 20, Microstep: 1}, rt.StopTag())
}

func TestRun_ContextCancelStopsKeepalive(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{Keepalive: true})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after context cancellation")
	}
}

func TestRun_PhysicalActionFromOutside(t *testing.T) {
	rt, clk := newTestRuntime(t, config.Options{Keepalive: true})
	main := rt.NewReactor("main")
	ping := main.NewPhysicalAction("ping", 0)

	var mu sync.Mutex
	var seen []tags.Tag
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		mu.Lock()
		seen = append(seen, rt.CurrentTag())
		mu.Unlock()
		rt.RequestStop()
	}, []any{ping})

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	// Let the runtime park on the empty queue, then inject.
	time.Sleep(20 * time.Millisecond)
	clk.Set(testStart + 700)
	h := rt.Schedule(ping, 0)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not process the physical action")
	}

	assert.Positive(t, h)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.EqualValues(t, testStart+700, seen[0].Time, "physical action stamped with the clock reading")
}

func TestRun_Stats(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	main := rt.NewReactor("main")
	act := main.NewLogicalAction("a", 0)

	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		rt.Schedule(act, 10)
	}, []any{rt.Startup()})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {}, []any{act})

	require.NoError(t, rt.Run(context.Background()))
	st := rt.Stats()
	assert.EqualValues(t, 2, st.ReactionsInvoked)
	assert.EqualValues(t, 2, st.EventsProcessed)
	assert.Positive(t, st.TagsAdvanced)
}

func TestRun_TraceRecords(t *testing.T) {
	var buf bytes.Buffer
	rec := trace.NewRecorder(&buf)
	rt, _ := newTestRuntime(t, config.Options{}, WithTracer(rec))
	main := rt.NewReactor("main")
	act := main.NewLogicalAction("a", 0)
	userID := rt.RegisterUserTraceEvent("custom marker")

	main.AddReaction(0, func(rt *Runtime, r *Reaction) {
		rt.Schedule(act, 7)
		rt.TracepointUserValue(userID, 123)
	}, []any{rt.Startup()})
	main.AddReaction(0, func(rt *Runtime, r *Reaction) {}, []any{act})

	require.NoError(t, rt.Run(context.Background()))

	f, err := trace.Read(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, testStart, f.StartTime)

	descs := map[string]bool{}
	for _, obj := range f.Objects {
		descs[obj.Description] = true
	}
	assert.True(t, descs["reactor main"])
	assert.True(t, descs["trigger main.a"])
	assert.True(t, descs["custom marker"])

	counts := map[trace.EventType]int{}
	var userValue int64
	for _, r := range f.Records {
		counts[r.EventType]++
		if r.EventType == trace.UserValue {
			userValue = r.ExtraDelay
		}
	}
	assert.Equal(t, 2, counts[trace.ReactionStarts])
	assert.Equal(t, 2, counts[trace.ReactionEnds])
	assert.Equal(t, 1, counts[trace.ScheduleCalled])
	assert.Equal(t, 1, counts[trace.UserValue])
	assert.Positive(t, counts[trace.AdvancingTimeStarts])
	assert.EqualValues(t, 123, userValue)
}

func TestSnapshot(t *testing.T) {
	rt, _ := newTestRuntime(t, config.Options{})
	out := rt.Snapshot()
	assert.Contains(t, out, "event queue (0)")
	assert.Contains(t, out, "reaction queue (0)")
}
