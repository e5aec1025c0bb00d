package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/quartz/internal/trace"
	"github.com/roach88/quartz/internal/tracestore"
)

// TraceOptions holds flags for the trace command family.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Limit    int
}

// NewTraceCommand creates the trace command group.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect and index binary trace files",
	}

	dump := &cobra.Command{
		Use:   "dump <file.lft>",
		Short: "Print a trace file as text",
		Args:  cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpTrace(opts, args[0], cmd.OutOrStdout())
		},
	}
	dump.Flags().IntVar(&opts.Limit, "limit", 0, "print at most this many records (0 = all)")

	index := &cobra.Command{
		Use:   "index <file.lft> <run-id>",
		Short: "Index a trace file into the trace store",
		Args:  cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return indexTrace(opts, args[0], args[1], cmd)
		},
	}
	index.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace store (required)")
	_ = index.MarkFlagRequired("db")

	runs := &cobra.Command{
		Use:   "runs",
		Short: "List indexed runs",
		Args:  cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(opts, cmd)
		},
	}
	runs.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace store (required)")
	_ = runs.MarkFlagRequired("db")

	summary := &cobra.Command{
		Use:   "summary <run-id>",
		Short: "Count a run's records per event type",
		Args:  cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return summarizeRun(opts, args[0], cmd)
		},
	}
	summary.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace store (required)")
	_ = summary.MarkFlagRequired("db")

	cmd.AddCommand(dump, index, runs, summary)
	return cmd
}

// dumpTrace renders a trace file in a line-per-record text form, with
// object pointers resolved against the header table.
func dumpTrace(opts *TraceOptions, path string, w io.Writer) error {
	f, err := trace.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	fmt.Fprintf(w, "start time %d\n", f.StartTime)
	fmt.Fprintf(w, "objects (%d):\n", len(f.Objects))
	for _, obj := range f.Objects {
		fmt.Fprintf(w, "  %d %s\n", obj.Pointer, obj.Description)
	}

	n := len(f.Records)
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}
	fmt.Fprintf(w, "records (%d of %d):\n", n, len(f.Records))
	for _, rec := range f.Records[:n] {
		// Times relative to start keep dumps comparable across runs.
		fmt.Fprintf(w, "  %-32s tag=(%d, %d) src=%d dst=%d",
			rec.EventType, rec.LogicalTime-f.StartTime, rec.Microstep, rec.SrcID, rec.DstID)
		if desc := f.Description(rec.Pointer); desc != "" {
			fmt.Fprintf(w, " object=%q", desc)
		}
		if desc := f.Description(rec.Trigger); desc != "" {
			fmt.Fprintf(w, " trigger=%q", desc)
		}
		if rec.ExtraDelay != 0 {
			fmt.Fprintf(w, " extra=%d", rec.ExtraDelay)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func indexTrace(opts *TraceOptions, path, runID string, cmd *cobra.Command) error {
	f, err := trace.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	st, err := tracestore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace store", err)
	}
	defer st.Close()
	if err := st.IndexTrace(cmd.Context(), runID, path, f); err != nil {
		return WrapExitError(ExitCommandError, "failed to index trace", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"run_id":  runID,
			"records": len(f.Records),
			"objects": len(f.Objects),
		})
	}
	formatter.Printf("Indexed run %s: %d records, %d objects.\n", runID, len(f.Records), len(f.Objects))
	return nil
}

func listRuns(opts *TraceOptions, cmd *cobra.Command) error {
	st, err := tracestore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace store", err)
	}
	defer st.Close()
	runs, err := st.Runs(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		formatter.Printf("No runs indexed.\n")
		return nil
	}
	for _, ri := range runs {
		formatter.Printf("%s  start=%d  records=%d  file=%s\n",
			ri.RunID, ri.StartTime, ri.Records, ri.TraceFile)
	}
	return nil
}

func summarizeRun(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	st, err := tracestore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace store", err)
	}
	defer st.Close()
	summary, err := st.Summary(cmd.Context(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarize run", err)
	}
	if len(summary) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found or empty", runID))
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		byName := make(map[string]int, len(summary))
		for et, n := range summary {
			byName[et.String()] = n
		}
		return formatter.Success(map[string]any{"run_id": runID, "events": byName})
	}

	types := make([]trace.EventType, 0, len(summary))
	for et := range summary {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	formatter.Printf("Run %s:\n", runID)
	for _, et := range types {
		formatter.Printf("  %-32s %d\n", et, summary[et])
	}
	return nil
}
