package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/quartz/internal/config"
	"github.com/roach88/quartz/internal/runtime"
	"github.com/roach88/quartz/internal/trace"
	"github.com/roach88/quartz/internal/tracestore"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config    string
	Timeout   time.Duration
	Fast      bool
	Workers   int
	Keepalive bool
	TraceFile string
	Database  string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <topology-dir>",
		Short: "Execute a reactor topology",
		Long: `Execute a CUE reactor topology under the deterministic scheduler.

The topology directory declares reactors, timers, actions, ports, and
reactions with built-in behaviors. Execution options come from an
optional YAML file and can be overridden by flags.

Example:
  quartz run ./topology --timeout 5s
  quartz run ./topology --config options.yaml --trace out.lft --db index.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopology(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML options file")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "logical time bound (overrides config)")
	cmd.Flags().BoolVar(&opts.Fast, "fast", false, "do not wait for physical time")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker goroutines (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&opts.Keepalive, "keepalive", false, "keep running when the event queue empties")
	cmd.Flags().StringVar(&opts.TraceFile, "trace", "", "write a binary trace to this path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "index the trace into this SQLite database after the run")

	return cmd
}

func runTopology(opts *RunOptions, dir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	runOpts := config.Default()
	if opts.Config != "" {
		var err error
		runOpts, err = config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load options", err)
		}
	}
	if opts.Timeout > 0 {
		runOpts.Timeout = opts.Timeout
	}
	if opts.Fast {
		runOpts.Fast = true
	}
	if opts.Workers > 0 {
		runOpts.Workers = opts.Workers
	}
	if opts.Keepalive {
		runOpts.Keepalive = true
	}
	if opts.TraceFile != "" {
		runOpts.TraceFile = opts.TraceFile
	}
	runOpts.Normalize()

	topo, err := LoadTopology(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load topology", err)
	}
	logger.Info("topology loaded", "name", topo.Name, "reactors", len(topo.Reactors))

	rtOpts := []runtime.Option{runtime.WithLogger(logger)}
	var recorder *trace.Recorder
	if runOpts.TraceFile != "" {
		recorder, err = trace.NewFileRecorder(runOpts.TraceFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create trace file", err)
		}
		rtOpts = append(rtOpts, runtime.WithTracer(recorder))
	}

	rt := runtime.New(runOpts, rtOpts...)
	built, err := Build(rt, topo, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build topology", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := rt.Run(ctx); err != nil {
		if runtime.IsInvariantViolation(err) {
			return WrapExitError(ExitFailure, "runtime invariant violated", err)
		}
		return WrapExitError(ExitCommandError, "runtime error", err)
	}

	if opts.Database != "" && runOpts.TraceFile != "" {
		if err := indexRun(ctx, rt.ID(), runOpts.TraceFile, opts.Database); err != nil {
			return WrapExitError(ExitCommandError, "failed to index trace", err)
		}
		logger.Info("trace indexed", "db", opts.Database, "run_id", rt.ID())
	}

	printRunSummary(opts, cmd, rt, topo, built)
	return nil
}

func printRunSummary(opts *RunOptions, cmd *cobra.Command, rt *runtime.Runtime, topo *Topology, built *BuildResult) {
	stats := rt.Stats()
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		_ = formatter.Success(map[string]any{
			"run_id":            rt.ID(),
			"topology":          topo.Name,
			"final_tag":         rt.CurrentTag().String(),
			"reactions_invoked": stats.ReactionsInvoked,
			"events_processed":  stats.EventsProcessed,
			"events_dropped":    stats.EventsDropped,
			"tags_advanced":     stats.TagsAdvanced,
			"counters":          built.Counters(),
		})
		return
	}

	f := &OutputFormatter{Format: "text", Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	f.Printf("Run %s of topology %q complete.\n", rt.ID(), topo.Name)
	f.Printf("  reactions invoked: %d\n", stats.ReactionsInvoked)
	f.Printf("  events processed:  %d\n", stats.EventsProcessed)
	f.Printf("  events dropped:    %d\n", stats.EventsDropped)
	f.Printf("  tags advanced:     %d\n", stats.TagsAdvanced)
	counters := built.Counters()
	for _, name := range sortedKeys(counters) {
		f.Printf("  counter %s: %d\n", name, counters[name])
	}
}

func indexRun(ctx context.Context, runID, traceFile, dbPath string) error {
	parsed, err := trace.ReadFile(traceFile)
	if err != nil {
		return err
	}
	st, err := tracestore.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.IndexTrace(ctx, runID, traceFile, parsed)
}
