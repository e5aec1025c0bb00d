package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/quartz/internal/runtime"
	"github.com/roach88/quartz/internal/tags"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	// Topology validation errors
	ErrCodeBadDuration  = "E101" // Unparseable duration
	ErrCodeBadKind      = "E102" // Unknown action kind
	ErrCodeBadPolicy    = "E103" // Unknown spacing policy
	ErrCodeBadTrigger   = "E104" // Reaction references unknown trigger
	ErrCodeBadBehavior  = "E105" // Unknown reaction behavior
	ErrCodeBadEndpoint  = "E106" // Connection endpoint not found
)

// LoadError represents an error that occurred during topology loading.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Topology is the declarative description of a reactor graph, decoded
// from CUE. Durations are strings in Go duration syntax.
type Topology struct {
	Name        string                 `json:"name"`
	Reactors    map[string]ReactorSpec `json:"reactors"`
	Connections []ConnectionSpec       `json:"connections"`
}

// ReactorSpec declares one reactor: its triggers, ports, and reactions.
type ReactorSpec struct {
	Timers    map[string]TimerSpec  `json:"timers"`
	Actions   map[string]ActionSpec `json:"actions"`
	Inputs    []string              `json:"inputs"`
	Outputs   []string              `json:"outputs"`
	Reactions []ReactionSpec        `json:"reactions"`
}

// TimerSpec declares a timer; an empty period makes it one-shot.
type TimerSpec struct {
	Offset string `json:"offset"`
	Period string `json:"period"`
}

// ActionSpec declares a schedulable action.
type ActionSpec struct {
	Kind     string `json:"kind"` // "logical" (default) or "physical"
	MinDelay string `json:"min_delay"`
	Spacing  string `json:"spacing"`
	Policy   string `json:"policy"` // "drop" (default), "defer", "replace"
}

// ReactionSpec declares a reaction with a built-in behavior:
//
//	log       - log the firing
//	count     - increment the reaction's counter
//	schedule  - schedule the action named by target, after offset
//	emit      - set the output port named by target to value
//	stop      - request a stop
//	stop_after- count, and request a stop at the value-th firing
//
// Triggers name timers, actions, inputs, or the pseudo-triggers
// "startup" and "shutdown".
type ReactionSpec struct {
	Level    int      `json:"level"`
	Triggers []string `json:"triggers"`
	Deadline string   `json:"deadline"`
	Chain    uint64   `json:"chain"`
	Do       string   `json:"do"`
	Target   string   `json:"target"`
	Offset   string   `json:"offset"`
	Value    int64    `json:"value"`
}

// ConnectionSpec wires "reactor.output" to "reactor.input".
type ConnectionSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LoadTopology loads the CUE package in dir and decodes its topology
// value.
func LoadTopology(dir string) (*Topology, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("topology directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing topology directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir, Package: "_"})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	topoVal := value.LookupPath(cue.ParsePath("topology"))
	if !topoVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: "no topology value found"}
	}
	var topo Topology
	if err := topoVal.Decode(&topo); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("decoding topology: %v", err)}
	}
	if len(topo.Reactors) == 0 {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "topology declares no reactors"}
	}
	return &topo, nil
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// BuildResult exposes the per-reaction counters accumulated during a
// run of a built topology.
type BuildResult struct {
	counters map[string]*atomic.Int64
}

// Counters returns a stable snapshot of the counting reactions.
func (b *BuildResult) Counters() map[string]int64 {
	out := make(map[string]int64, len(b.counters))
	for name, c := range b.counters {
		out[name] = c.Load()
	}
	return out
}

// Build instantiates the topology on the runtime. Reactors are built in
// name order so object ids, and with them trace output, stay stable
// across runs.
func Build(rt *runtime.Runtime, topo *Topology, logger *slog.Logger) (*BuildResult, error) {
	res := &BuildResult{counters: make(map[string]*atomic.Int64)}

	names := make([]string, 0, len(topo.Reactors))
	for name := range topo.Reactors {
		names = append(names, name)
	}
	sort.Strings(names)

	triggers := make(map[string]*runtime.Trigger)
	outputs := make(map[string]*runtime.Port)
	inputs := make(map[string]*runtime.Port)

	for _, name := range names {
		spec := topo.Reactors[name]
		reactor := rt.NewReactor(name)

		timerNames := sortedKeys(spec.Timers)
		for _, tn := range timerNames {
			ts := spec.Timers[tn]
			offset, err := parseDuration(ts.Offset)
			if err != nil {
				return nil, badDuration(name, tn, "offset", err)
			}
			period, err := parseDuration(ts.Period)
			if err != nil {
				return nil, badDuration(name, tn, "period", err)
			}
			triggers[name+"."+tn] = reactor.NewTimer(tn, offset, period)
		}

		actionNames := sortedKeys(spec.Actions)
		for _, an := range actionNames {
			as := spec.Actions[an]
			minDelay, err := parseDuration(as.MinDelay)
			if err != nil {
				return nil, badDuration(name, an, "min_delay", err)
			}
			spacing, err := parseDuration(as.Spacing)
			if err != nil {
				return nil, badDuration(name, an, "spacing", err)
			}
			var opts []runtime.ActionOption
			if spacing > 0 {
				policy, err := parsePolicy(as.Policy)
				if err != nil {
					return nil, &LoadError{Code: ErrCodeBadPolicy,
						Message: fmt.Sprintf("%s.%s: %v", name, an, err)}
				}
				opts = append(opts, runtime.WithSpacing(spacing, policy))
			}
			var act *runtime.Trigger
			switch as.Kind {
			case "", "logical":
				act = reactor.NewLogicalAction(an, minDelay, opts...)
			case "physical":
				act = reactor.NewPhysicalAction(an, minDelay, opts...)
			default:
				return nil, &LoadError{Code: ErrCodeBadKind,
					Message: fmt.Sprintf("%s.%s: unknown action kind %q", name, an, as.Kind)}
			}
			triggers[name+"."+an] = act
		}

		for _, pn := range spec.Outputs {
			outputs[name+"."+pn] = reactor.NewOutput(pn)
		}
		for _, pn := range spec.Inputs {
			inputs[name+"."+pn] = reactor.NewInput(pn)
		}
	}

	for _, conn := range topo.Connections {
		out, ok := outputs[conn.From]
		if !ok {
			return nil, &LoadError{Code: ErrCodeBadEndpoint,
				Message: fmt.Sprintf("connection from unknown output %q", conn.From)}
		}
		in, ok := inputs[conn.To]
		if !ok {
			return nil, &LoadError{Code: ErrCodeBadEndpoint,
				Message: fmt.Sprintf("connection to unknown input %q", conn.To)}
		}
		rt.Connect(out, in)
	}

	for _, name := range names {
		spec := topo.Reactors[name]
		for i, rs := range spec.Reactions {
			key := fmt.Sprintf("%s/%d", name, i)
			sources := make([]any, 0, len(rs.Triggers))
			for _, tn := range rs.Triggers {
				src, err := resolveSource(rt, name, tn, triggers, inputs)
				if err != nil {
					return nil, err
				}
				sources = append(sources, src)
			}
			fn, err := behavior(rs, key, name, triggers, outputs, res, logger)
			if err != nil {
				return nil, err
			}
			var opts []runtime.ReactionOption
			if rs.Deadline != "" {
				d, err := parseDuration(rs.Deadline)
				if err != nil {
					return nil, badDuration(name, key, "deadline", err)
				}
				opts = append(opts, runtime.WithDeadline(d, nil))
			}
			if rs.Chain != 0 {
				opts = append(opts, runtime.WithChain(rs.Chain))
			}
			reactor := findReactor(rt, name)
			reactor.AddReaction(rs.Level, fn, sources, opts...)
		}
	}

	return res, nil
}

// resolveSource maps a trigger name from a reaction spec onto the
// runtime object it refers to.
func resolveSource(rt *runtime.Runtime, reactor, name string,
	triggers map[string]*runtime.Trigger, inputs map[string]*runtime.Port) (any, error) {
	switch name {
	case "startup":
		return rt.Startup(), nil
	case "shutdown":
		return rt.Shutdown(), nil
	}
	if t, ok := triggers[reactor+"."+name]; ok {
		return t, nil
	}
	if p, ok := inputs[reactor+"."+name]; ok {
		return p, nil
	}
	return nil, &LoadError{Code: ErrCodeBadTrigger,
		Message: fmt.Sprintf("%s: unknown trigger %q", reactor, name)}
}

// behavior builds the reaction body for a spec.
func behavior(rs ReactionSpec, key, reactor string,
	triggers map[string]*runtime.Trigger, outputs map[string]*runtime.Port,
	res *BuildResult, logger *slog.Logger) (runtime.ReactionFunc, error) {
	switch rs.Do {
	case "", "log":
		return func(rt *runtime.Runtime, r *runtime.Reaction) {
			logger.Info("reaction fired", "reaction", key, "tag", rt.CurrentTag().String())
		}, nil
	case "count":
		counter := &atomic.Int64{}
		res.counters[key] = counter
		return func(rt *runtime.Runtime, r *runtime.Reaction) {
			counter.Add(1)
		}, nil
	case "schedule":
		target, ok := triggers[reactor+"."+rs.Target]
		if !ok {
			return nil, &LoadError{Code: ErrCodeBadBehavior,
				Message: fmt.Sprintf("%s: schedule target %q not found", key, rs.Target)}
		}
		offset, err := parseDuration(rs.Offset)
		if err != nil {
			return nil, badDuration(reactor, key, "offset", err)
		}
		value := rs.Value
		return func(rt *runtime.Runtime, r *runtime.Reaction) {
			rt.ScheduleInt(target, offset, int(value))
		}, nil
	case "emit":
		port, ok := outputs[reactor+"."+rs.Target]
		if !ok {
			return nil, &LoadError{Code: ErrCodeBadBehavior,
				Message: fmt.Sprintf("%s: emit target %q not found", key, rs.Target)}
		}
		value := rs.Value
		return func(rt *runtime.Runtime, r *runtime.Reaction) {
			port.Set(value)
		}, nil
	case "stop":
		return func(rt *runtime.Runtime, r *runtime.Reaction) {
			rt.RequestStop()
		}, nil
	case "stop_after":
		counter := &atomic.Int64{}
		res.counters[key] = counter
		limit := rs.Value
		return func(rt *runtime.Runtime, r *runtime.Reaction) {
			if counter.Add(1) >= limit {
				rt.RequestStop()
			}
		}, nil
	default:
		return nil, &LoadError{Code: ErrCodeBadBehavior,
			Message: fmt.Sprintf("%s: unknown behavior %q", key, rs.Do)}
	}
}

func findReactor(rt *runtime.Runtime, name string) *runtime.Reactor {
	for _, r := range rt.Reactors() {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseDuration(s string) (tags.Interval, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return tags.Interval(d), nil
}

func parsePolicy(s string) (runtime.SpacingPolicy, error) {
	switch s {
	case "", "drop":
		return runtime.DropPolicy, nil
	case "defer":
		return runtime.DeferPolicy, nil
	case "replace":
		return runtime.ReplacePolicy, nil
	default:
		return 0, fmt.Errorf("unknown spacing policy %q", s)
	}
}

func badDuration(reactor, item, field string, err error) error {
	return &LoadError{Code: ErrCodeBadDuration,
		Message: fmt.Sprintf("%s.%s: bad %s: %v", reactor, item, field, err)}
}
