package rule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/testutil"
)

func applyRule(t *testing.T, f *testutil.SemiJoinOverUnion) *ir.UnionNode {
	t.Helper()
	r := NewPushSemiJoinThroughUnion()

	captures, ok := r.Pattern().Match(f.SemiJoin)
	require.True(t, ok, "pattern should match semi join over union")

	result, err := r.Apply(f.SemiJoin, captures, NewPlannerContext(f.IDs, f.Syms))
	require.NoError(t, err)
	require.False(t, result.IsEmpty())

	u, ok := result.Node().(*ir.UnionNode)
	require.True(t, ok, "replacement should be a union, got %T", result.Node())
	return u
}

func branchSemiJoin(t *testing.T, u *ir.UnionNode, i int) *ir.SemiJoinNode {
	t.Helper()
	sj, ok := u.Sources()[i].(*ir.SemiJoinNode)
	require.True(t, ok, "branch %d should be a semi join", i)
	return sj
}

func TestPushSemiJoinThroughUnion_TwoBranchScenario(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	u := applyRule(t, f)

	assert.Equal(t, []*ir.Symbol{f.A, f.B, f.Match}, u.OutputSymbols())
	require.Equal(t, 2, u.SourceCount())

	sj0 := branchSemiJoin(t, u, 0)
	sj1 := branchSemiJoin(t, u, 1)

	assert.Same(t, f.Branches[0], sj0.Source())
	assert.Same(t, f.Branches[1], sj1.Source())
	assert.Equal(t, "match_1", sj0.SemiJoinOutput().Name())
	assert.Equal(t, "match_2", sj1.SemiJoinOutput().Name())
	assert.Equal(t, ir.TypeBoolean, sj0.SemiJoinOutput().Type())

	assert.Equal(t, []*ir.Symbol{f.BranchA[0], f.BranchB[0], sj0.SemiJoinOutput()}, sj0.OutputSymbols())
	assert.Equal(t, []*ir.Symbol{f.BranchA[1], f.BranchB[1], sj1.SemiJoinOutput()}, sj1.OutputSymbols())

	assert.Same(t, f.BranchA[0], sj0.SourceJoinSymbol())
	assert.Same(t, f.BranchA[1], sj1.SourceJoinSymbol())
	assert.Same(t, f.K, sj0.FilteringSourceJoinSymbol())

	assert.Equal(t, map[*ir.Symbol][]*ir.Symbol{
		f.A:     {f.BranchA[0], f.BranchA[1]},
		f.B:     {f.BranchB[0], f.BranchB[1]},
		f.Match: {sj0.SemiJoinOutput(), sj1.SemiJoinOutput()},
	}, u.SymbolMapping())

	// Branch semi joins take ids first, the union last.
	assert.Equal(t, ir.PlanNodeID(6), sj0.ID())
	assert.Equal(t, ir.PlanNodeID(7), sj1.ID())
	assert.Equal(t, ir.PlanNodeID(8), u.ID())

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
	assert.Equal(t, expected, ir.Format(u))
}

func TestPushSemiJoinThroughUnion_Properties(t *testing.T) {
	for _, branches := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("%d_branches", branches), func(t *testing.T) {
			f := testutil.NewSemiJoinOverUnion(t, branches)
			inputSymbols := ir.CollectSymbols(f.SemiJoin)
			u := applyRule(t, f)

			// Output symbols are preserved in order.
			assert.Equal(t, f.SemiJoin.OutputSymbols(), u.OutputSymbols())

			// Branch count is preserved.
			assert.Equal(t, f.Union.SourceCount(), u.SourceCount())

			indicators := make(map[*ir.Symbol]bool)
			for i := 0; i < branches; i++ {
				sj := branchSemiJoin(t, u, i)

				// The filtering input is the original subtree, shared.
				assert.Same(t, f.SemiJoin.FilteringSource(), sj.FilteringSource())

				// Pass-through columns are the union's branch symbols.
				for _, o := range f.Union.OutputSymbols() {
					assert.Same(t, f.Union.SourceSymbol(o, i), u.SourceSymbol(o, i))
				}

				// Indicators are fresh and pairwise distinct.
				ind := sj.SemiJoinOutput()
				assert.NotContains(t, inputSymbols, ind)
				assert.False(t, indicators[ind], "indicator %s reused", ind)
				indicators[ind] = true
				assert.Same(t, ind, u.SourceSymbol(f.Match, i))
			}
		})
	}
}

func TestPushSemiJoinThroughUnion_SingleBranchStillRewritten(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 1)
	u := applyRule(t, f)

	require.Equal(t, 1, u.SourceCount())
	sj := branchSemiJoin(t, u, 0)
	assert.Equal(t, "match_1", sj.SemiJoinOutput().Name())
}

func TestPushSemiJoinThroughUnion_DoesNotRematch(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	r := NewPushSemiJoinThroughUnion()
	u := applyRule(t, f)

	ir.Walk(u, func(n ir.PlanNode) bool {
		_, ok := r.Pattern().Match(n)
		assert.False(t, ok, "rule should not match %s after rewrite", n)
		return true
	})
}

func TestPushSemiJoinThroughUnion_Deterministic(t *testing.T) {
	first := applyRule(t, testutil.NewSemiJoinOverUnion(t, 3))
	second := applyRule(t, testutil.NewSemiJoinOverUnion(t, 3))

	assert.Equal(t, ir.Format(first), ir.Format(second))
	assert.Equal(t, ir.MustPlanFingerprint(first), ir.MustPlanFingerprint(second))
}

func TestPushSemiJoinThroughUnion_DoesNotMutateInput(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	before := ir.MustPlanFingerprint(f.SemiJoin)

	applyRule(t, f)

	assert.Equal(t, before, ir.MustPlanFingerprint(f.SemiJoin))
	assert.Same(t, f.Union, f.SemiJoin.Source())
}

func TestPushSemiJoinThroughUnion_IsEnabled(t *testing.T) {
	r := NewPushSemiJoinThroughUnion()
	s := session.Default()
	assert.False(t, r.IsEnabled(s), "disabled by default")

	s.PushSemiJoinThroughUnion = true
	assert.True(t, r.IsEnabled(s))
	assert.Equal(t, "push_semi_join_through_union", r.Name())
}

func TestPushSemiJoinThroughUnion_ProjectedIndicator(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	p := f.SemiJoin.Params()
	p.Outputs = []*ir.Symbol{f.B}
	narrow, err := ir.NewSemiJoinNode(p)
	require.NoError(t, err)

	r := NewPushSemiJoinThroughUnion()
	captures, ok := r.Pattern().Match(narrow)
	require.True(t, ok)
	result, err := r.Apply(narrow, captures, NewPlannerContext(f.IDs, f.Syms))
	require.NoError(t, err)

	u := result.Node().(*ir.UnionNode)
	assert.Equal(t, []*ir.Symbol{f.B}, u.OutputSymbols())

	sj0 := branchSemiJoin(t, u, 0)
	sj1 := branchSemiJoin(t, u, 1)
	assert.Equal(t, []*ir.Symbol{f.BranchB[0]}, sj0.OutputSymbols())
	assert.NotSame(t, sj0.SemiJoinOutput(), sj1.SemiJoinOutput())
	assert.NotSame(t, f.Match, sj0.SemiJoinOutput())
}

func TestPushSemiJoinThroughUnion_HashSymbolsMapped(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	p := f.SemiJoin.Params()
	p.SourceHashSymbol = f.B
	p.FilteringSourceHashSymbol = f.K
	hashed, err := ir.NewSemiJoinNode(p)
	require.NoError(t, err)

	r := NewPushSemiJoinThroughUnion()
	captures, _ := r.Pattern().Match(hashed)
	result, err := r.Apply(hashed, captures, NewPlannerContext(f.IDs, f.Syms))
	require.NoError(t, err)

	u := result.Node().(*ir.UnionNode)
	for i := 0; i < 2; i++ {
		sj := branchSemiJoin(t, u, i)
		assert.Same(t, f.BranchB[i], sj.SourceHashSymbol())
		assert.Same(t, f.K, sj.FilteringSourceHashSymbol())
	}
}

func TestPushSemiJoinThroughUnion_ContractErrors(t *testing.T) {
	f := testutil.NewSemiJoinOverUnion(t, 2)
	r := NewPushSemiJoinThroughUnion()
	ctx := NewPlannerContext(f.IDs, f.Syms)
	captures, ok := r.Pattern().Match(f.SemiJoin)
	require.True(t, ok)

	t.Run("wrong node kind", func(t *testing.T) {
		_, err := r.Apply(f.Union, captures, ctx)
		require.Error(t, err)
		assert.True(t, IsContractError(err))
		assert.Equal(t, ErrCodeUnsupportedNode, ContractErrorCodeOf(err))
	})

	t.Run("missing capture", func(t *testing.T) {
		_, err := r.Apply(f.SemiJoin, pattern.Captures{}, ctx)
		assert.Equal(t, ErrCodeMissingCapture, ContractErrorCodeOf(err))
	})

	t.Run("capture from another node", func(t *testing.T) {
		other := testutil.NewSemiJoinOverUnion(t, 2)
		_, err := r.Apply(f.SemiJoin, mustMatch(t, r, other.SemiJoin), ctx)
		assert.Equal(t, ErrCodeMissingCapture, ContractErrorCodeOf(err))
	})

	t.Run("unmapped output", func(t *testing.T) {
		// The union of another plan does not map this semi join's outputs.
		other := testutil.NewSemiJoinOverUnion(t, 2)
		_, _, err := r.rewriteSource(f.SemiJoin, other.Union, 0, ctx)
		require.Error(t, err)
		assert.Equal(t, ErrCodeUnmappedOutput, ContractErrorCodeOf(err))

		var ce *ContractError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, r.Name(), ce.Rule)
		assert.Equal(t, f.SemiJoin.ID(), ce.NodeID)
	})
}

func mustMatch(t *testing.T, r Rule, n ir.PlanNode) pattern.Captures {
	t.Helper()
	cs, ok := r.Pattern().Match(n)
	require.True(t, ok)
	return cs
}

func TestDefaultRuleSet(t *testing.T) {
	rules := Default()
	require.Len(t, rules, 1)
	assert.Equal(t, pattern.OperandSemiJoin, rules[0].Pattern().Operand())
}

func TestPushSemiJoinThroughUnion_BranchFeedsTwoOutputs(t *testing.T) {
	// SELECT x, x FROM t1 UNION ALL SELECT a2, b2 FROM t2, semi joined on a.
	syms := alloc.NewSymbolAllocator()
	declare := func(name string, typ ir.VarType) *ir.Symbol {
		s, err := syms.Declare(name, typ)
		require.NoError(t, err)
		return s
	}
	a, b := declare("a", ir.TypeBigint), declare("b", ir.TypeBigint)
	x, a2, b2 := declare("x", ir.TypeBigint), declare("a2", ir.TypeBigint), declare("b2", ir.TypeBigint)
	k, match := declare("k", ir.TypeBigint), declare("match", ir.TypeBoolean)

	t1, err := ir.NewTableScanNode(1, "t1", []*ir.Symbol{x})
	require.NoError(t, err)
	t2, err := ir.NewTableScanNode(2, "t2", []*ir.Symbol{a2, b2})
	require.NoError(t, err)
	filter, err := ir.NewTableScanNode(3, "f", []*ir.Symbol{k})
	require.NoError(t, err)
	union, err := ir.NewUnionNode(4, []ir.PlanNode{t1, t2}, []*ir.Symbol{a, b},
		map[*ir.Symbol][]*ir.Symbol{a: {x, a2}, b: {x, b2}})
	require.NoError(t, err)
	semiJoin, err := ir.NewSemiJoinNode(ir.SemiJoinParams{
		ID:                        5,
		Source:                    union,
		FilteringSource:           filter,
		SourceJoinSymbol:          a,
		FilteringSourceJoinSymbol: k,
		SemiJoinOutput:            match,
		Outputs:                   []*ir.Symbol{a, b, match},
	})
	require.NoError(t, err)

	r := NewPushSemiJoinThroughUnion()
	result, err := r.Apply(semiJoin, mustMatch(t, r, semiJoin),
		NewPlannerContext(alloc.NewPlanNodeIDAllocatorAt(5), syms))
	require.NoError(t, err)

	u, ok := result.Node().(*ir.UnionNode)
	require.True(t, ok, "replacement should be a union, got %T", result.Node())
	require.Equal(t, 2, u.SourceCount())
	assert.Equal(t, []*ir.Symbol{a, b, match}, u.OutputSymbols())

	sj0 := branchSemiJoin(t, u, 0)
	sj1 := branchSemiJoin(t, u, 1)
	assert.Equal(t, []*ir.Symbol{x, sj0.SemiJoinOutput()}, sj0.OutputSymbols(), "x is output once")
	assert.Equal(t, []*ir.Symbol{a2, b2, sj1.SemiJoinOutput()}, sj1.OutputSymbols())
	assert.Same(t, x, sj0.SourceJoinSymbol())

	assert.Equal(t, map[*ir.Symbol][]*ir.Symbol{
		a:     {x, a2},
		b:     {x, b2},
		match: {sj0.SemiJoinOutput(), sj1.SemiJoinOutput()},
	}, u.SymbolMapping())
}
