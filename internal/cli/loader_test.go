package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quartz/internal/config"
	"github.com/roach88/quartz/internal/runtime"
	"github.com/roach88/quartz/internal/testutil"
)

const sampleTopology = `
topology: {
	name: "pingpong"
	reactors: {
		ping: {
			timers: tick: {offset: "0s", period: "1ms"}
			outputs: ["out"]
			reactions: [{
				level: 0
				triggers: ["tick"]
				do: "emit"
				target: "out"
				value: 7
			}]
		}
		pong: {
			inputs: ["in"]
			reactions: [{
				level: 1
				triggers: ["in"]
				do: "stop_after"
				value: 3
			}]
		}
	}
	connections: [{from: "ping.out", to: "pong.in"}]
}
`

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topology.cue"), []byte(body), 0o644))
	return dir
}

func TestLoadTopology(t *testing.T) {
	dir := writeTopology(t, sampleTopology)
	topo, err := LoadTopology(dir)
	require.NoError(t, err)

	assert.Equal(t, "pingpong", topo.Name)
	require.Len(t, topo.Reactors, 2)
	require.Len(t, topo.Connections, 1)

	ping := topo.Reactors["ping"]
	assert.Equal(t, "1ms", ping.Timers["tick"].Period)
	require.Len(t, ping.Reactions, 1)
	assert.Equal(t, "emit", ping.Reactions[0].Do)
}

func TestLoadTopology_MissingDir(t *testing.T) {
	_, err := LoadTopology(filepath.Join(t.TempDir(), "absent"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadTopology_NoCUEFiles(t *testing.T) {
	_, err := LoadTopology(t.TempDir())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestBuildAndRun(t *testing.T) {
	dir := writeTopology(t, sampleTopology)
	topo, err := LoadTopology(dir)
	require.NoError(t, err)

	opts := config.Options{Fast: true, Workers: 1}
	opts.Normalize()
	rt := runtime.New(opts, runtime.WithClock(testutil.NewFakeClock(0)))
	built, err := Build(rt, topo, slog.Default())
	require.NoError(t, err)

	require.NoError(t, rt.Run(context.Background()))

	counters := built.Counters()
	assert.EqualValues(t, 3, counters["pong/0"], "stop at the third delivery")
	assert.Zero(t, rt.Pool().Outstanding())
}

func TestBuild_UnknownTrigger(t *testing.T) {
	topo := &Topology{
		Name: "bad",
		Reactors: map[string]ReactorSpec{
			"main": {Reactions: []ReactionSpec{{Triggers: []string{"nope"}}}},
		},
	}
	rt := runtime.New(config.Default())
	_, err := Build(rt, topo, slog.Default())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBadTrigger, le.Code)
}

func TestBuild_UnknownBehavior(t *testing.T) {
	topo := &Topology{
		Name: "bad",
		Reactors: map[string]ReactorSpec{
			"main": {Reactions: []ReactionSpec{{Triggers: []string{"startup"}, Do: "explode"}}},
		},
	}
	rt := runtime.New(config.Default())
	_, err := Build(rt, topo, slog.Default())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBadBehavior, le.Code)
}

func TestBuild_BadConnection(t *testing.T) {
	topo := &Topology{
		Name: "bad",
		Reactors: map[string]ReactorSpec{
			"main": {Outputs: []string{"out"}},
		},
		Connections: []ConnectionSpec{{From: "main.out", To: "main.nothere"}},
	}
	rt := runtime.New(config.Default())
	_, err := Build(rt, topo, slog.Default())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBadEndpoint, le.Code)
}
