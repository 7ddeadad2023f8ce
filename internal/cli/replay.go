package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/planopt/internal/engine"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunToken string // optional - specific run only
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunToken      string   `json:"run_token"`
	PlanName      string   `json:"plan_name,omitempty"`
	Firings       int      `json:"firings"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	Deterministic bool     `json:"deterministic"`
	Skipped       string   `json:"skipped,omitempty"`
	Mismatches    []string `json:"mismatches,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-optimize recorded runs and verify determinism",
		Long: `Re-optimize the stored input plan of each recorded run under its stored
session and compare the output plan fingerprint and every rule firing
with what the store recorded.

Runs that never finished are skipped.

Exit codes:
  0 - All runs reproduced exactly
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, unknown run, etc.)

Examples:
  planopt replay --db ./trace.db
  planopt replay --db ./trace.db --run 0190c4d8-...
  planopt replay --db ./trace.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "replay specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	var runs []store.RunSummary
	if opts.RunToken != "" {
		opt, res, err := st.ReadOptimization(ctx, opts.RunToken)
		if errors.Is(err, store.ErrNotFound) {
			return outputCommandError(formatter, ErrCodeUnknownRun, fmt.Sprintf("no run %s in %s", opts.RunToken, opts.Database))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		summary := store.RunSummary{RunToken: opt.RunToken, PlanName: opt.PlanName}
		if res != nil {
			summary.Status = res.Status
		}
		runs = []store.RunSummary{summary}
	} else {
		runs, err = st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runs)),
		TotalRuns:        len(runs),
		AllDeterministic: true,
	}

	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())
	for _, run := range runs {
		runResult, err := replayRun(ctx, st, run, engine.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", run.RunToken), err)
		}
		result.Runs = append(result.Runs, runResult)
		if !runResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// replayRun replays one run. A run without a result cannot be compared and
// is skipped.
func replayRun(ctx context.Context, st *store.Store, run store.RunSummary, opts ...engine.Option) (ReplayRunResult, error) {
	out := ReplayRunResult{RunToken: run.RunToken, PlanName: run.PlanName}
	if run.Status == "" {
		out.Deterministic = true
		out.Skipped = "run has no result"
		return out, nil
	}

	res, err := engine.Replay(ctx, st, run.RunToken, rule.Default(), opts...)
	if err != nil {
		return out, err
	}
	out.Firings = res.ActualFirings
	out.Fingerprint = res.ActualFingerprint
	out.Deterministic = res.Identical()
	out.Mismatches = res.Mismatches
	return out, nil
}

func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	resp := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.AllDeterministic {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	if err := formatter.JSON(resp); err != nil {
		return err
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n", result.TotalRuns)
	fmt.Fprintln(w)

	for _, run := range result.Runs {
		status := "✓"
		if !run.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Run: %s\n", status, run.RunToken)

		switch {
		case run.Skipped != "":
			fmt.Fprintf(w, "  Skipped: %s\n", run.Skipped)
		case formatter.Verbose:
			fmt.Fprintf(w, "  Plan: %s\n", run.PlanName)
			fmt.Fprintf(w, "  Firings: %d\n", run.Firings)
			fmt.Fprintf(w, "  Fingerprint: %s\n", run.Fingerprint)
		default:
			fmt.Fprintf(w, "  %d firing(s)\n", run.Firings)
		}

		for _, m := range run.Mismatches {
			fmt.Fprintf(w, "  Mismatch: %s\n", m)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All runs verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
