package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunToken string // optional - without it every run is listed
	Rule     string // optional - filter firings to one rule
}

// TraceFiring is one firing in the trace timeline.
type TraceFiring struct {
	FiringOutput
	BeforeFingerprint string `json:"before_fingerprint"`
	AfterFingerprint  string `json:"after_fingerprint"`
}

// TraceResult holds the complete trace of one run.
type TraceResult struct {
	RunToken          string             `json:"run_token"`
	PlanName          string             `json:"plan_name,omitempty"`
	Status            string             `json:"status"`
	Steps             int                `json:"steps"`
	Error             string             `json:"error,omitempty"`
	InputFingerprint  string             `json:"input_fingerprint"`
	OutputFingerprint string             `json:"output_fingerprint,omitempty"`
	EngineVersion     string             `json:"engine_version"`
	Session           []session.Property `json:"session"`
	Firings           []TraceFiring      `json:"firings"`

	input  string
	output string
}

// RunListResult holds the runs recorded in a store.
type RunListResult struct {
	Runs []store.RunSummary `json:"runs"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded rule firings of a run",
		Long: `Show what the trace store recorded for an optimization run: the
session it ran under, every rule firing in order with the plan
fingerprints before and after, and the final status.

Without --run every recorded run is listed. With --verbose the input and
output plans are printed as well.

Examples:
  planopt trace --db ./trace.db
  planopt trace --db ./trace.db --run 0190c4d8-...
  planopt trace --db ./trace.db --run 0190c4d8-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "run token to trace")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "only show firings of this rule")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunToken == "" {
		return listRuns(ctx, st, formatter)
	}

	result, err := buildTrace(ctx, st, opts.RunToken, opts.Rule)
	if errors.Is(err, store.ErrNotFound) {
		return outputCommandError(formatter, ErrCodeUnknownRun, fmt.Sprintf("no run %s in %s", opts.RunToken, opts.Database))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{
			Status: "ok",
			Run:    &RunRef{Token: result.RunToken, Plan: result.PlanName, Steps: result.Steps, Status: result.Status},
			Data:   result,
		})
	}
	return outputTraceText(formatter, result)
}

// buildTrace reads one run from the store.
func buildTrace(ctx context.Context, st *store.Store, runToken, ruleFilter string) (*TraceResult, error) {
	opt, res, err := st.ReadOptimization(ctx, runToken)
	if err != nil {
		return nil, err
	}
	firings, err := st.ReadFirings(ctx, runToken)
	if err != nil {
		return nil, err
	}

	result := &TraceResult{
		RunToken:         opt.RunToken,
		PlanName:         opt.PlanName,
		Status:           "running",
		InputFingerprint: opt.InputFingerprint,
		EngineVersion:    opt.EngineVersion,
		Firings:          []TraceFiring{},
	}

	sess, err := session.FromObject(opt.Session)
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	result.Session = sess.Properties()

	if result.input, err = formatStoredPlan(opt.InputPlan); err != nil {
		return nil, fmt.Errorf("decode input plan: %w", err)
	}
	if res != nil {
		result.Status = res.Status
		result.Steps = res.Steps
		result.Error = res.Error
		result.OutputFingerprint = res.OutputFingerprint
		if res.OutputPlan != nil {
			if result.output, err = formatStoredPlan(res.OutputPlan); err != nil {
				return nil, fmt.Errorf("decode output plan: %w", err)
			}
		}
	}

	for _, f := range firings {
		if ruleFilter != "" && f.Rule != ruleFilter {
			continue
		}
		result.Firings = append(result.Firings, TraceFiring{
			FiringOutput: FiringOutput{
				Seq:           f.Seq,
				Rule:          f.Rule,
				NodeID:        f.NodeID,
				ReplacementID: f.ReplacementID,
			},
			BeforeFingerprint: f.BeforeFingerprint,
			AfterFingerprint:  f.AfterFingerprint,
		})
	}
	return result, nil
}

// formatStoredPlan decodes a stored plan into its own symbol namespace and
// renders it.
func formatStoredPlan(obj ir.Object) (string, error) {
	plan, err := ir.DecodePlan(obj, alloc.NewSymbolAllocator())
	if err != nil {
		return "", err
	}
	return ir.Format(plan), nil
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: RunListResult{Runs: runs}})
	}

	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}
	fmt.Fprintf(w, "%d run(s)\n\n", len(runs))
	for _, r := range runs {
		status := r.Status
		if status == "" {
			status = "running"
		}
		fmt.Fprintf(w, "  %s  %-10s %-8s %d firing(s)\n", r.RunToken, r.PlanName, status, r.Firings)
	}
	return nil
}

func outputTraceText(formatter *OutputFormatter, result *TraceResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Run: %s\n", result.RunToken)
	if result.PlanName != "" {
		fmt.Fprintf(w, "Plan: %s\n", result.PlanName)
	}
	fmt.Fprintf(w, "Status: %s (%d step(s))\n", result.Status, result.Steps)
	if result.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", result.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Session:")
	for _, p := range result.Session {
		fmt.Fprintf(w, "  %s = %s\n", p.Name, p.Value)
	}
	fmt.Fprintln(w)

	if len(result.Firings) == 0 {
		fmt.Fprintln(w, "Firings: none")
	} else {
		fmt.Fprintln(w, "Firings:")
		for _, f := range result.Firings {
			fmt.Fprintf(w, "  [%d] %s node=%d replacement=%d\n", f.Seq, f.Rule, f.NodeID, f.ReplacementID)
			if formatter.Verbose {
				fmt.Fprintf(w, "      %s -> %s\n", shortFingerprint(f.BeforeFingerprint), shortFingerprint(f.AfterFingerprint))
			}
		}
	}

	if formatter.Verbose {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Input:")
		fmt.Fprint(w, indent(result.input, "  "))
		if result.output != "" {
			fmt.Fprintln(w, "Output:")
			fmt.Fprint(w, indent(result.output, "  "))
		}
	}
	return nil
}
