package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the optimized plan to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Plan     string // Formatted optimized plan
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Plan != "" {
		fmt.Fprintf(&buf, "\nPlan:\n%s", e.Plan)
	}

	return buf.String()
}

// AssertionContext provides store access for trace assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

func assertRootKind(plan ir.PlanNode, a Assertion) error {
	if plan.Kind().String() != a.Kind {
		return &AssertionError{
			Type:     AssertRootKind,
			Expected: a.Kind,
			Actual:   plan.Kind().String(),
			Plan:     ir.Format(plan),
		}
	}
	return nil
}

func assertOutputSymbols(plan ir.PlanNode, a Assertion) error {
	got := symbolNames(plan.OutputSymbols())
	if !slices.Equal(got, a.Symbols) {
		return &AssertionError{
			Type:     AssertOutputSymbols,
			Expected: fmt.Sprintf("%v", a.Symbols),
			Actual:   fmt.Sprintf("%v", got),
			Plan:     ir.Format(plan),
		}
	}
	return nil
}

func assertBranchCount(plan ir.PlanNode, a Assertion) error {
	u, ok := plan.(*ir.UnionNode)
	if !ok {
		return &AssertionError{
			Type:     AssertBranchCount,
			Expected: fmt.Sprintf("union with %d sources", a.Count),
			Actual:   plan.Kind().String(),
			Plan:     ir.Format(plan),
		}
	}
	if u.SourceCount() != a.Count {
		return &AssertionError{
			Type:     AssertBranchCount,
			Expected: fmt.Sprintf("%d sources", a.Count),
			Actual:   fmt.Sprintf("%d sources", u.SourceCount()),
			Plan:     ir.Format(plan),
		}
	}
	return nil
}

// assertRuleFired counts the firings of a rule in the stored trace, not in
// the in-memory outcome, so it also checks that the trace was written.
func assertRuleFired(ctx context.Context, st *store.Store, runToken string, plan ir.PlanNode, a Assertion) error {
	firings, err := st.ReadFirings(ctx, runToken)
	if err != nil {
		return fmt.Errorf("rule_fired: %w", err)
	}
	count := 0
	for _, f := range firings {
		if f.Rule == a.Rule {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRuleFired,
			Expected: fmt.Sprintf("%d firings of %s", a.Count, a.Rule),
			Actual:   fmt.Sprintf("%d firings", count),
			Plan:     ir.Format(plan),
		}
	}
	return nil
}

// assertFreshSymbols compares the symbols referenced by the optimized plan
// but not by the input, in first-appearance order.
func assertFreshSymbols(input, plan ir.PlanNode, a Assertion) error {
	before := make(map[*ir.Symbol]bool)
	for _, s := range ir.CollectSymbols(input) {
		before[s] = true
	}
	var fresh []string
	for _, s := range ir.CollectSymbols(plan) {
		if !before[s] {
			fresh = append(fresh, s.Name())
		}
	}
	if !slices.Equal(fresh, a.Symbols) {
		return &AssertionError{
			Type:     AssertFreshSymbols,
			Expected: fmt.Sprintf("%v", a.Symbols),
			Actual:   fmt.Sprintf("%v", fresh),
			Plan:     ir.Format(plan),
		}
	}
	return nil
}

func symbolNames(list []*ir.Symbol) []string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name()
	}
	return names
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for rule_fired assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	if result.Plan == nil {
		return []string{"no optimized plan to assert on"}
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRootKind:
			err = assertRootKind(result.Plan, assertion)
		case AssertOutputSymbols:
			err = assertOutputSymbols(result.Plan, assertion)
		case AssertBranchCount:
			err = assertBranchCount(result.Plan, assertion)
		case AssertRuleFired:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: rule_fired requires store context", i)
			} else {
				err = assertRuleFired(actx.Ctx, actx.Store, result.RunToken, result.Plan, assertion)
			}
		case AssertFreshSymbols:
			err = assertFreshSymbols(result.Input, result.Plan, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
