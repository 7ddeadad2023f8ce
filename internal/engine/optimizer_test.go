package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/compiler"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
	"github.com/roach88/planopt/internal/testutil"
)

func TestOptimizer_TwoBranchScenario(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	opt := New(rule.Default(), f.IDs, f.Syms, enabledSession(),
		WithRunTokenGenerator(NewFixedGenerator("run-1")))

	out, err := opt.Optimize(context.Background(), f.SemiJoin)
	require.NoError(t, err)

	assert.Equal(t, "run-1", out.RunToken)
	assert.Same(t, f.SemiJoin, out.Input)
	assert.Equal(t, 1, out.Steps)

	expected := `- Union[8] sources=2 => [a:bigint, b:varchar, match:boolean]
        a := (a1, a2)
        b := (b1, b2)
        match := (match_1, match_2)
    - SemiJoin[6] a1 = k indicator=match_1 => [a1:bigint, b1:varchar, match_1:boolean]
        - TableScan[1] t1 => [a1:bigint, b1:varchar]
        - TableScan[3] f => [k:bigint]
    - SemiJoin[7] a2 = k indicator=match_2 => [a2:bigint, b2:varchar, match_2:boolean]
        - TableScan[2] t2 => [a2:bigint, b2:varchar]
        - TableScan[3] f => [k:bigint]
`
	assert.Equal(t, expected, ir.Format(out.Plan))

	require.Len(t, out.Firings, 1)
	fr := out.Firings[0]
	assert.Equal(t, int64(1), fr.Seq)
	assert.Equal(t, "push_semi_join_through_union", fr.Rule)
	assert.Equal(t, ir.PlanNodeID(5), fr.NodeID)
	assert.Equal(t, ir.PlanNodeID(8), fr.ReplacementID)
	assert.Equal(t, ir.MustPlanFingerprint(f.SemiJoin), fr.BeforeFingerprint)
	assert.Equal(t, ir.MustPlanFingerprint(out.Plan), fr.AfterFingerprint)

	// The output is at fixpoint and still well formed.
	assert.Empty(t, compiler.ValidatePlan(out.Plan))
	assert.Equal(t, f.SemiJoin.OutputSymbols(), out.Plan.OutputSymbols())
}

func TestOptimizer_FilteringSubtreeStaysShared(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 3)
	out, err := New(rule.Default(), f.IDs, f.Syms, enabledSession()).Optimize(context.Background(), f.SemiJoin)
	require.NoError(t, err)

	for i, src := range out.Plan.Sources() {
		sj, ok := src.(*ir.SemiJoinNode)
		require.True(t, ok, "branch %d", i)
		assert.Same(t, f.Filter, sj.FilteringSource())
	}
}

func TestOptimizer_DisabledRuleNeverApplied(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	stub := &stubRule{
		name:    "never",
		pattern: pattern.Typed(pattern.OperandAny),
		apply: func(ir.PlanNode, rule.Context) (rule.Result, error) {
			t.Fatal("disabled rule was applied")
			return rule.Unchanged(), nil
		},
	}

	rules := append(rule.Default(), stub)
	out, err := New(rules, f.IDs, f.Syms, session.Default()).Optimize(context.Background(), f.SemiJoin)
	require.NoError(t, err)

	assert.Zero(t, stub.calls)
	assert.Same(t, f.SemiJoin, out.Plan)
	assert.Empty(t, out.Firings)
	assert.Zero(t, out.Steps)
}

func TestOptimizer_UnchangedResultIsNotAFiring(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 1)
	stub := &stubRule{
		name:    "noop",
		pattern: pattern.Typed(pattern.OperandAny),
		enabled: true,
		apply: func(ir.PlanNode, rule.Context) (rule.Result, error) {
			return rule.Unchanged(), nil
		},
	}

	out, err := New([]rule.Rule{stub}, f.IDs, f.Syms, session.Default()).Optimize(context.Background(), f.SemiJoin)
	require.NoError(t, err)
	assert.Same(t, f.SemiJoin, out.Plan)
	assert.Empty(t, out.Firings)

	// Semi join, union, one branch, filter: each offered exactly once.
	assert.Equal(t, 4, stub.calls)
}

func TestOptimizer_RewritesNestedUnions(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	declare := func(name string, typ ir.VarType) *ir.Symbol {
		s, err := f.Syms.Declare(name, typ)
		require.NoError(t, err)
		return s
	}

	// SemiJoin[outer](Union(inner semi join, t3), g)
	a3 := declare("a3", ir.TypeBigint)
	b3 := declare("b3", ir.TypeVarchar)
	m3 := declare("m3", ir.TypeBoolean)
	x := declare("x", ir.TypeBigint)
	y := declare("y", ir.TypeVarchar)
	z := declare("z", ir.TypeBoolean)
	k2 := declare("k2", ir.TypeBigint)
	hit := declare("hit", ir.TypeBoolean)

	t3, err := ir.NewTableScanNode(f.IDs.NextID(), "t3", []*ir.Symbol{a3, b3, m3})
	require.NoError(t, err)
	g, err := ir.NewTableScanNode(f.IDs.NextID(), "g", []*ir.Symbol{k2})
	require.NoError(t, err)
	u2, err := ir.NewUnionNode(f.IDs.NextID(), []ir.PlanNode{f.SemiJoin, t3}, []*ir.Symbol{x, y, z},
		map[*ir.Symbol][]*ir.Symbol{
			x: {f.A, a3},
			y: {f.B, b3},
			z: {f.Match, m3},
		})
	require.NoError(t, err)
	outer, err := ir.NewSemiJoinNode(ir.SemiJoinParams{
		ID:                        f.IDs.NextID(),
		Source:                    u2,
		FilteringSource:           g,
		SourceJoinSymbol:          x,
		FilteringSourceJoinSymbol: k2,
		SemiJoinOutput:            hit,
	})
	require.NoError(t, err)

	out, err := New(rule.Default(), f.IDs, f.Syms, enabledSession()).Optimize(context.Background(), outer)
	require.NoError(t, err)

	require.Len(t, out.Firings, 2)
	assert.Equal(t, outer.ID(), out.Firings[0].NodeID)
	assert.Equal(t, f.SemiJoin.ID(), out.Firings[1].NodeID)
	assert.Equal(t, []int64{1, 2}, []int64{out.Firings[0].Seq, out.Firings[1].Seq})

	// No semi join is left directly above a union.
	ir.Walk(out.Plan, func(n ir.PlanNode) bool {
		if sj, ok := n.(*ir.SemiJoinNode); ok {
			_, isUnion := sj.Source().(*ir.UnionNode)
			assert.False(t, isUnion, "semi join %d still sits on a union", sj.ID())
		}
		return true
	})
	assert.Equal(t, outer.OutputSymbols(), out.Plan.OutputSymbols())
	assert.Empty(t, compiler.ValidatePlan(out.Plan))
}

func TestOptimizer_QuotaExceeded(t *testing.T) {
	scan, err := ir.NewTableScanNode(1, "t", []*ir.Symbol{ir.NewSymbol("a", ir.TypeBigint)})
	require.NoError(t, err)
	ids, syms, err := alloc.ForPlan(scan)
	require.NoError(t, err)

	_, err = New([]rule.Rule{rescanRule()}, ids, syms, nil,
		WithMaxSteps(5),
		WithRunTokenGenerator(NewFixedGenerator("run-q")),
	).Optimize(context.Background(), scan)
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))

	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "run-q", se.RunToken)
	assert.Equal(t, 6, se.Steps)
	assert.Equal(t, 5, se.Limit)
}

func TestOptimizer_QuotaFromSession(t *testing.T) {
	scan, err := ir.NewTableScanNode(1, "t", []*ir.Symbol{ir.NewSymbol("a", ir.TypeBigint)})
	require.NoError(t, err)
	ids, syms, err := alloc.ForPlan(scan)
	require.NoError(t, err)

	sess := session.Default()
	sess.MaxRuleApplications = 3

	_, err = New([]rule.Rule{rescanRule()}, ids, syms, sess).Optimize(context.Background(), scan)
	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Limit)
}

func TestOptimizer_ContractErrorIsFatal(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	st := setupTestStore(t)
	stub := &stubRule{
		name:    "broken",
		pattern: pattern.Typed(pattern.OperandSemiJoin),
		enabled: true,
		apply: func(node ir.PlanNode, _ rule.Context) (rule.Result, error) {
			return rule.Unchanged(), &rule.ContractError{
				Code:    rule.ErrCodeMissingCapture,
				Rule:    "broken",
				NodeID:  node.ID(),
				Message: "capture not bound",
			}
		},
	}

	_, err := New([]rule.Rule{stub}, f.IDs, f.Syms, nil,
		WithStore(st),
		WithRunTokenGenerator(NewFixedGenerator("run-c")),
	).Optimize(context.Background(), f.SemiJoin)
	require.Error(t, err)
	assert.True(t, rule.IsContractError(err))
	assert.Equal(t, rule.ErrCodeMissingCapture, rule.ContractErrorCodeOf(err))
	assert.Contains(t, err.Error(), "rule broken on node 5")

	_, res, err := st.ReadOptimization(context.Background(), "run-c")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "MISSING_CAPTURE")
}

func TestOptimizer_ValidateOutputMismatch(t *testing.T) {
	a := ir.NewSymbol("a", ir.TypeBigint)
	scan, err := ir.NewTableScanNode(1, "t", []*ir.Symbol{a})
	require.NoError(t, err)
	ids, syms, err := alloc.ForPlan(scan)
	require.NoError(t, err)

	stub := &stubRule{
		name:    "drop_columns",
		pattern: pattern.Typed(pattern.OperandTableScan),
		enabled: true,
		apply: func(node ir.PlanNode, ctx rule.Context) (rule.Result, error) {
			n, err := ir.NewTableScanNode(ctx.NextNodeID(), "t", nil)
			if err != nil {
				return rule.Unchanged(), err
			}
			return rule.Replace(n), nil
		},
	}

	sess := session.Default()
	sess.ValidatePlan = true
	_, err = New([]rule.Rule{stub}, ids, syms, sess).Optimize(context.Background(), scan)
	require.Error(t, err)
	assert.True(t, IsOutputMismatchError(err))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "drop_columns", re.Rule)
	assert.Equal(t, ir.PlanNodeID(1), re.NodeID)
	assert.Equal(t, "a", re.Details["want"])
	assert.Equal(t, "", re.Details["got"])
}

func TestOptimizer_ValidateInvalidReplacement(t *testing.T) {
	a := ir.NewSymbol("a", ir.TypeBigint)
	scan, err := ir.NewTableScanNode(1, "t", []*ir.Symbol{a})
	require.NoError(t, err)
	ids, syms, err := alloc.ForPlan(scan)
	require.NoError(t, err)

	// Replaces the scan by a union whose output is also produced by both
	// branches: the output list matches but the plan is malformed.
	stub := &stubRule{
		name:    "alias_union",
		pattern: pattern.Typed(pattern.OperandTableScan),
		enabled: true,
		apply: func(node ir.PlanNode, ctx rule.Context) (rule.Result, error) {
			outs := node.OutputSymbols()
			s1, err := ir.NewTableScanNode(ctx.NextNodeID(), "x", outs)
			if err != nil {
				return rule.Unchanged(), err
			}
			s2, err := ir.NewTableScanNode(ctx.NextNodeID(), "y", outs)
			if err != nil {
				return rule.Unchanged(), err
			}
			u, err := ir.NewUnionNode(ctx.NextNodeID(), []ir.PlanNode{s1, s2}, outs,
				map[*ir.Symbol][]*ir.Symbol{a: {a, a}})
			if err != nil {
				return rule.Unchanged(), err
			}
			return rule.Replace(u), nil
		},
	}

	sess := session.Default()
	sess.ValidatePlan = true
	_, err = New([]rule.Rule{stub}, ids, syms, sess).Optimize(context.Background(), scan)
	require.Error(t, err)
	assert.True(t, IsInvalidPlanError(err))
	assert.Contains(t, err.Error(), compiler.ErrSymbolRedefined)
}

func TestOptimizer_ValidatesInput(t *testing.T) {
	a1 := ir.NewSymbol("a1", ir.TypeBigint)
	a2 := ir.NewSymbol("a2", ir.TypeBigint)
	a := ir.NewSymbol("a", ir.TypeBigint)
	t1, err := ir.NewTableScanNode(1, "t1", []*ir.Symbol{a1})
	require.NoError(t, err)
	t2, err := ir.NewTableScanNode(1, "t2", []*ir.Symbol{a2})
	require.NoError(t, err)
	u, err := ir.NewUnionNode(2, []ir.PlanNode{t1, t2}, []*ir.Symbol{a},
		map[*ir.Symbol][]*ir.Symbol{a: {a1, a2}})
	require.NoError(t, err)

	sess := session.Default()
	sess.ValidatePlan = true
	_, err = New(rule.Default(), alloc.NewPlanNodeIDAllocator(), alloc.NewSymbolAllocator(), sess).
		Optimize(context.Background(), u)
	require.Error(t, err)
	assert.True(t, IsInvalidPlanError(err))
	assert.Contains(t, err.Error(), compiler.ErrDuplicateNodeID)
}

func TestOptimizer_SymbolNameConflict(t *testing.T) {
	x1 := ir.NewSymbol("x", ir.TypeBigint)
	x2 := ir.NewSymbol("x", ir.TypeBigint)
	scan, err := ir.NewTableScanNode(1, "t", []*ir.Symbol{x1, x2})
	require.NoError(t, err)

	_, err = New(rule.Default(), alloc.NewPlanNodeIDAllocator(), alloc.NewSymbolAllocator(), nil).
		Optimize(context.Background(), scan)
	assert.True(t, IsInvalidPlanError(err))
}

func TestOptimizer_ObservesInputIDs(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)

	// An allocator that knows nothing of the plan still cannot hand out
	// an id the plan uses.
	ids := alloc.NewPlanNodeIDAllocator()
	out, err := New(rule.Default(), ids, f.Syms, enabledSession()).Optimize(context.Background(), f.SemiJoin)
	require.NoError(t, err)
	assert.Equal(t, ir.PlanNodeID(8), out.Plan.ID())
	assert.Empty(t, ir.NewIndex(out.Plan).Duplicates())
}

func TestOptimizer_NilPlan(t *testing.T) {
	_, err := New(nil, alloc.NewPlanNodeIDAllocator(), alloc.NewSymbolAllocator(), nil).
		Optimize(context.Background(), nil)
	assert.Error(t, err)
}

func TestOptimizer_CancelledContext(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(rule.Default(), f.IDs, f.Syms, enabledSession()).Optimize(ctx, f.SemiJoin)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOptimizer_WritesTrace(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	st := setupTestStore(t)
	ctx := context.Background()

	out, err := New(rule.Default(), f.IDs, f.Syms, enabledSession(),
		WithStore(st),
		WithRunTokenGenerator(NewFixedGenerator("run-t")),
	).OptimizeNamed(ctx, "q1", f.SemiJoin)
	require.NoError(t, err)
	assert.Equal(t, "q1", out.PlanName)

	opt, res, err := st.ReadOptimization(ctx, "run-t")
	require.NoError(t, err)
	assert.Equal(t, "q1", opt.PlanName)
	assert.Equal(t, ir.MustPlanFingerprint(f.SemiJoin), opt.InputFingerprint)
	assert.Equal(t, ir.EngineVersion, opt.EngineVersion)

	require.NotNil(t, res)
	assert.Equal(t, store.StatusFixpoint, res.Status)
	assert.Equal(t, ir.MustPlanFingerprint(out.Plan), res.OutputFingerprint)
	assert.Equal(t, 1, res.Steps)

	firings, err := st.ReadFirings(ctx, "run-t")
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, out.Firings[0].Rule, firings[0].Rule)
	assert.Equal(t, out.Firings[0].ReplacementID, firings[0].ReplacementID)
	assert.Equal(t, out.Firings[0].AfterFingerprint, firings[0].AfterFingerprint)
}

func TestOptimizer_DefaultMaxSteps(t *testing.T) {
	assert.Equal(t, 1000, DefaultMaxSteps)

	sess := session.Default()
	sess.MaxRuleApplications = 0
	o := New(nil, alloc.NewPlanNodeIDAllocator(), alloc.NewSymbolAllocator(), sess)
	assert.Equal(t, DefaultMaxSteps, o.maxSteps)
}
