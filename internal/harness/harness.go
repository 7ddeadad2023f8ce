package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/compiler"
	"github.com/roach88/planopt/internal/engine"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
	"github.com/roach88/planopt/internal/testutil"
)

// Run executes a test scenario with the default rule set.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithRules(scenario, rule.Default())
}

// RunWithRules executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with a
// fixed run token and allocators scoped to the plan, so the trace is
// byte-identical across runs.
//
// Execution flow:
// 1. Compile the plan program and select the plan
// 2. Build the session from defaults plus overrides
// 3. Optimize with the trace store attached
// 4. Evaluate assertions against the outcome and the stored trace
//
// An error is returned only when the scenario cannot be executed at all.
// A failed optimization is a failed result unless the scenario expects it.
func RunWithRules(scenario *Scenario, rules []rule.Rule) (*Result, error) {
	ctx := context.Background()

	v, err := compiler.LoadFile(scenario.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	plans, err := compiler.CompileProgram(v, alloc.NewPlanNodeIDAllocator(), alloc.NewSymbolAllocator())
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan: %w", err)
	}
	plan := plans[0]
	if scenario.PlanName != "" {
		var ok bool
		if plan, ok = compiler.FindPlan(plans, scenario.PlanName); !ok {
			return nil, fmt.Errorf("plan %q not found in %s", scenario.PlanName, scenario.Plan)
		}
	}

	sess := session.Default()
	for name, value := range scenario.Session {
		if err := sess.Set(name, fmt.Sprint(value)); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ids, syms, err := alloc.ForPlan(plan.Root)
	if err != nil {
		return nil, err
	}

	gen := testutil.NewFixedRunTokenGenerator(scenario.RunToken)
	opt := engine.New(rules, ids, syms, sess,
		engine.WithStore(st),
		engine.WithRunTokenGenerator(gen),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
	)

	result := NewResult()
	result.Input = plan.Root
	outcome, runErr := opt.OptimizeNamed(ctx, plan.Name, plan.Root)
	if runErr != nil {
		result.RunError = runErr.Error()
		result.RunToken = gen.Generate()
	} else {
		result.Plan = outcome.Plan
		result.RunToken = outcome.RunToken
	}

	firings, err := st.ReadFirings(ctx, result.RunToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, f := range firings {
		result.Firings = append(result.Firings, FiringEvent{
			Seq:           f.Seq,
			Rule:          f.Rule,
			NodeID:        f.NodeID,
			ReplacementID: f.ReplacementID,
		})
	}

	switch {
	case scenario.ExpectError != "":
		if runErr == nil {
			result.AddError(fmt.Sprintf("expected error containing %q, optimization succeeded", scenario.ExpectError))
		} else if !strings.Contains(runErr.Error(), scenario.ExpectError) {
			result.AddError(fmt.Sprintf("expected error containing %q, got %q", scenario.ExpectError, runErr.Error()))
		}
		return result, nil
	case runErr != nil:
		result.AddError(fmt.Sprintf("optimization failed: %v", runErr))
		return result, nil
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}
