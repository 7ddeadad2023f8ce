package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/compiler"
	"github.com/roach88/planopt/internal/engine"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
)

// OptimizeOptions holds flags for the optimize command.
type OptimizeOptions struct {
	*RootOptions
	Plan     string   // optimize only this plan
	Session  string   // session YAML file
	Set      []string // name=value session overrides
	Database string   // trace store; empty means no trace
}

// FiringOutput is one rule firing in command output.
type FiringOutput struct {
	Seq           int64         `json:"seq"`
	Rule          string        `json:"rule"`
	NodeID        ir.PlanNodeID `json:"node_id"`
	ReplacementID ir.PlanNodeID `json:"replacement_id"`
}

// OptimizedPlan is the outcome of one plan.
type OptimizedPlan struct {
	Name        string         `json:"name"`
	RunToken    string         `json:"run_token,omitempty"`
	Steps       int            `json:"steps"`
	Firings     []FiringOutput `json:"firings"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Plan        ir.Object      `json:"plan,omitempty"`
	Error       *CLIError      `json:"error,omitempty"`

	formatted string
}

// OptimizeResult holds the outcome of every optimized plan.
type OptimizeResult struct {
	Plans  []OptimizedPlan `json:"plans"`
	Failed int             `json:"failed"`
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OptimizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "optimize <plans>",
		Short: "Optimize plans with the rule set",
		Long: `Compile a CUE plan program and run the rule set over each plan until
no rule fires.

The session starts from defaults, then --session, then every --set in
order. Rules that the session disables never fire: the semi join pushdown
needs push_semi_join_through_union=true.

With --db every run and rule firing is recorded for trace and replay.

Exit codes:
  0 - Every plan optimized
  1 - An optimization failed (quota, invalid replacement)
  2 - Command error (invalid paths, bad session, etc.)

Examples:
  planopt optimize ./plans --set push_semi_join_through_union=true
  planopt optimize ./plans --plan q1 --session session.yaml --db trace.db
  planopt optimize ./plans/q1.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Plan, "plan", "", "optimize only the named plan")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session YAML file")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "session override name=value (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database")

	return cmd
}

func runOptimize(opts *OptimizeOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sess, err := buildSession(opts.Session, opts.Set)
	if err != nil {
		return outputCommandError(formatter, ErrCodeSession, err.Error())
	}

	loaded, err := LoadPlans(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	plans := loaded.Plans
	if opts.Plan != "" {
		p, ok := compiler.FindPlan(plans, opts.Plan)
		if !ok {
			return outputCommandError(formatter, ErrCodeNotFound, fmt.Sprintf("plan %q not found in %s", opts.Plan, path))
		}
		plans = []compiler.NamedPlan{p}
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}

	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())
	result := OptimizeResult{Plans: make([]OptimizedPlan, 0, len(plans))}
	for _, p := range plans {
		out, err := optimizePlan(ctx, p, sess, st, engine.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("optimize %s", p.Name), err)
		}
		if out.Error != nil {
			result.Failed++
		}
		result.Plans = append(result.Plans, out)
	}

	if opts.Format == "json" {
		return outputOptimizeJSON(formatter, result)
	}
	return outputOptimizeText(formatter, result)
}

// buildSession applies a session file and then the overrides to the
// defaults.
func buildSession(file string, overrides []string) (*session.Session, error) {
	sess := session.Default()
	if file != "" {
		var err error
		if sess, err = session.Load(file); err != nil {
			return nil, err
		}
	}
	for _, kv := range overrides {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: expected name=value", kv)
		}
		if err := sess.Set(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// optimizePlan runs one plan with allocators scoped to it, so the run can
// be replayed from the store. A failed optimization is reported in the
// result; the returned error is for failures outside the run.
func optimizePlan(ctx context.Context, p compiler.NamedPlan, sess *session.Session, st *store.Store, opts ...engine.Option) (OptimizedPlan, error) {
	out := OptimizedPlan{Name: p.Name, Firings: []FiringOutput{}}

	ids, syms, err := alloc.ForPlan(p.Root)
	if err != nil {
		return out, err
	}
	if st != nil {
		opts = append(opts, engine.WithStore(st))
	}

	opt := engine.New(rule.Default(), ids, syms, sess, opts...)
	outcome, err := opt.OptimizeNamed(ctx, p.Name, p.Root)
	if err != nil {
		out.Error = runErrorToCLI(err)
		return out, nil
	}

	fp, err := ir.PlanFingerprint(outcome.Plan)
	if err != nil {
		return out, err
	}
	out.RunToken = outcome.RunToken
	out.Steps = outcome.Steps
	out.Fingerprint = fp
	out.Plan = ir.EncodePlan(outcome.Plan)
	out.formatted = ir.Format(outcome.Plan)
	for _, f := range outcome.Firings {
		out.Firings = append(out.Firings, FiringOutput{
			Seq:           f.Seq,
			Rule:          f.Rule,
			NodeID:        f.NodeID,
			ReplacementID: f.ReplacementID,
		})
	}
	return out, nil
}

// runErrorToCLI keeps the engine's error code when there is one.
func runErrorToCLI(err error) *CLIError {
	var rtErr *engine.RuntimeError
	switch {
	case engine.IsStepsExceededError(err):
		return &CLIError{Code: string(engine.ErrCodeQuotaExceeded), Message: err.Error()}
	case errors.As(err, &rtErr):
		ce := &CLIError{Code: string(rtErr.Code), Message: rtErr.Message}
		if len(rtErr.Details) > 0 {
			ce.Details = rtErr.Details
		}
		return ce
	default:
		return &CLIError{Code: ErrCodeGeneric, Message: err.Error()}
	}
}

func outputOptimizeJSON(formatter *OutputFormatter, result OptimizeResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if len(result.Plans) == 1 && result.Plans[0].RunToken != "" {
		p := result.Plans[0]
		resp.Run = &RunRef{Token: p.RunToken, Plan: p.Name, Steps: p.Steps}
	}
	if result.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    "E_OPTIMIZE_FAILED",
			Message: fmt.Sprintf("%d plan(s) failed to optimize", result.Failed),
		}
	}
	if err := formatter.JSON(resp); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, resp.Error.Message)
	}
	return nil
}

func outputOptimizeText(formatter *OutputFormatter, result OptimizeResult) error {
	w := formatter.Writer
	for _, p := range result.Plans {
		if p.Error != nil {
			fmt.Fprintf(w, "✗ %s\n", p.Name)
			fmt.Fprintf(w, "  %s: %s\n\n", p.Error.Code, p.Error.Message)
			continue
		}
		fmt.Fprintf(w, "✓ %s: %d firing(s), run %s\n", p.Name, len(p.Firings), p.RunToken)
		for _, f := range p.Firings {
			fmt.Fprintf(w, "  %d %s node=%d replacement=%d\n", f.Seq, f.Rule, f.NodeID, f.ReplacementID)
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, indent(p.formatted, "  "))
		fmt.Fprintln(w)
	}

	if result.Failed > 0 {
		msg := fmt.Sprintf("%d plan(s) failed to optimize", result.Failed)
		fmt.Fprintf(w, "✗ %s\n", msg)
		return NewExitError(ExitFailure, msg)
	}
	return nil
}
