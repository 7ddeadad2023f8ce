package engine

import (
	"context"
	"fmt"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
)

// ReplayResult compares a stored run with a fresh run of the same input.
type ReplayResult struct {
	RunToken            string
	ExpectedFingerprint string
	ActualFingerprint   string
	ExpectedFirings     int
	ActualFirings       int
	Mismatches          []string
}

// Identical reports whether the replay reproduced the stored run exactly.
func (r *ReplayResult) Identical() bool {
	return len(r.Mismatches) == 0
}

// Replay re-optimizes the stored input of runToken with rules and the
// stored session, and compares the output plan and every firing with what
// the store recorded.
//
// The replay uses allocators scoped to the decoded plan (alloc.ForPlan), so
// it reproduces runs that were started the same way. Nothing is written to
// the store.
func Replay(ctx context.Context, st *store.Store, runToken string, rules []rule.Rule, opts ...Option) (*ReplayResult, error) {
	opt, stored, err := st.ReadOptimization(ctx, runToken)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("run %s has no result to compare", runToken)
	}
	storedFirings, err := st.ReadFirings(ctx, runToken)
	if err != nil {
		return nil, err
	}

	plan, err := ir.DecodePlan(opt.InputPlan, alloc.NewSymbolAllocator())
	if err != nil {
		return nil, fmt.Errorf("decode input plan: %w", err)
	}
	sess, err := session.FromObject(opt.Session)
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	ids, syms, err := alloc.ForPlan(plan)
	if err != nil {
		return nil, err
	}

	opts = append(opts, WithStore(nil), WithRunTokenGenerator(NewFixedGenerator(runToken)))
	outcome, runErr := New(rules, ids, syms, sess, opts...).OptimizeNamed(ctx, opt.PlanName, plan)

	result := &ReplayResult{
		RunToken:            runToken,
		ExpectedFingerprint: stored.OutputFingerprint,
		ExpectedFirings:     len(storedFirings),
	}

	if runErr != nil {
		if stored.Status != store.StatusFailed {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("replay failed: %v", runErr))
		} else if stored.Error != runErr.Error() {
			result.Mismatches = append(result.Mismatches,
				fmt.Sprintf("error differs: stored %q, replay %q", stored.Error, runErr.Error()))
		}
		return result, nil
	}
	if stored.Status == store.StatusFailed {
		result.Mismatches = append(result.Mismatches, fmt.Sprintf("stored run failed (%s) but replay succeeded", stored.Error))
	}

	result.ActualFirings = len(outcome.Firings)
	result.ActualFingerprint, err = ir.PlanFingerprint(outcome.Plan)
	if err != nil {
		return nil, err
	}
	if result.ActualFingerprint != result.ExpectedFingerprint {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("output fingerprint differs: stored %s, replay %s", result.ExpectedFingerprint, result.ActualFingerprint))
	}

	if len(storedFirings) != len(outcome.Firings) {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("firing count differs: stored %d, replay %d", len(storedFirings), len(outcome.Firings)))
		return result, nil
	}
	for i, sf := range storedFirings {
		f := outcome.Firings[i]
		if sf.Seq != f.Seq || sf.Rule != f.Rule || sf.NodeID != f.NodeID ||
			sf.ReplacementID != f.ReplacementID ||
			sf.BeforeFingerprint != f.BeforeFingerprint || sf.AfterFingerprint != f.AfterFingerprint {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("firing %d differs", sf.Seq))
		}
	}
	return result, nil
}
