package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKindString(t *testing.T) {
	assert.Equal(t, "semi_join", KindSemiJoin.String())
	assert.Equal(t, "union", KindUnion.String())
	assert.Equal(t, "kind(99)", NodeKind(99).String())

	k, ok := ParseNodeKind("table_scan")
	require.True(t, ok)
	assert.Equal(t, KindTableScan, k)

	_, ok = ParseNodeKind("join")
	assert.False(t, ok)
}

func TestTableScanNodeValidation(t *testing.T) {
	a := NewSymbol("a", TypeBigint)

	_, err := NewTableScanNode(1, "", []*Symbol{a})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = NewTableScanNode(1, "t", []*Symbol{a, a})
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.Contains(t, err.Error(), "duplicate output a")

	n, err := NewTableScanNode(1, "t", []*Symbol{a})
	require.NoError(t, err)
	assert.Equal(t, "TableScan[1] t => [a:bigint]", n.String())
	assert.Empty(t, n.Sources())
}

func TestValuesNodeValidation(t *testing.T) {
	_, err := NewValuesNode(1, nil, -1)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	n, err := NewValuesNode(1, []*Symbol{NewSymbol("x", TypeInteger)}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n.Rows())
	assert.Equal(t, "Values[1] rows=3 => [x:integer]", n.String())
}

func TestOutputSymbolsIsACopy(t *testing.T) {
	p := buildUnionPlan(t)

	outs := p.semiJoin.OutputSymbols()
	outs[0] = p.k
	assert.Same(t, p.a, p.semiJoin.OutputSymbols()[0])
}

func TestSemiJoinDefaultOutputs(t *testing.T) {
	p := buildUnionPlan(t)

	assert.Equal(t, []*Symbol{p.a, p.b, p.match}, p.semiJoin.OutputSymbols())
	assert.Equal(t, []PlanNode{p.union, p.filter}, p.semiJoin.Sources())
	assert.Equal(t, KindSemiJoin, p.semiJoin.Kind())
}

func TestSemiJoinValidation(t *testing.T) {
	p := buildUnionPlan(t)
	notBool := NewSymbol("m", TypeBigint)
	stray := NewSymbol("stray", TypeBigint)

	base := func() SemiJoinParams {
		return p.semiJoin.Params()
	}

	tests := []struct {
		name   string
		mutate func(*SemiJoinParams)
		errMsg string
	}{
		{"missing source", func(sp *SemiJoinParams) { sp.Source = nil }, "required"},
		{"missing indicator", func(sp *SemiJoinParams) { sp.SemiJoinOutput = nil }, "required"},
		{"indicator not boolean", func(sp *SemiJoinParams) { sp.SemiJoinOutput = notBool }, "must be boolean"},
		{"indicator is a source output", func(sp *SemiJoinParams) {
			sp.SemiJoinOutput = NewSymbol("a", TypeBoolean)
			sp.Source, _ = NewValuesNode(9, []*Symbol{p.a, sp.SemiJoinOutput}, 1)
		}, "already produced by the source"},
		{"source key not in source", func(sp *SemiJoinParams) { sp.SourceJoinSymbol = p.k }, "not a source output"},
		{"filtering key not in filter", func(sp *SemiJoinParams) { sp.FilteringSourceJoinSymbol = p.a }, "not a filtering source output"},
		{"source hash not in source", func(sp *SemiJoinParams) { sp.SourceHashSymbol = stray }, "source hash symbol"},
		{"filtering hash not in filter", func(sp *SemiJoinParams) { sp.FilteringSourceHashSymbol = stray }, "filtering hash symbol"},
		{"output from filtering side", func(sp *SemiJoinParams) { sp.Outputs = []*Symbol{p.a, p.k} }, "comes from the filtering source"},
		{"unknown output", func(sp *SemiJoinParams) { sp.Outputs = []*Symbol{stray} }, "neither a source output"},
		{"duplicate output", func(sp *SemiJoinParams) { sp.Outputs = []*Symbol{p.a, p.a} }, "duplicate output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := base()
			tt.mutate(&sp)
			_, err := NewSemiJoinNode(sp)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPlan)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSemiJoinExplicitOutputsSubset(t *testing.T) {
	p := buildUnionPlan(t)
	sp := p.semiJoin.Params()
	sp.Outputs = []*Symbol{p.match, p.b}

	n, err := NewSemiJoinNode(sp)
	require.NoError(t, err)
	assert.Equal(t, []*Symbol{p.match, p.b}, n.OutputSymbols())
}

func TestSemiJoinParamsIsACopy(t *testing.T) {
	p := buildUnionPlan(t)
	sp := p.semiJoin.Params()
	sp.Outputs[0] = p.k
	sp.SemiJoinOutput = nil

	assert.Same(t, p.a, p.semiJoin.OutputSymbols()[0])
	assert.Same(t, p.match, p.semiJoin.SemiJoinOutput())
}

func TestUnionNodeAccessors(t *testing.T) {
	p := buildUnionPlan(t)
	u := p.union

	assert.Equal(t, 2, u.SourceCount())
	assert.Same(t, p.a2, u.SourceSymbol(p.a, 1))
	assert.Nil(t, u.SourceSymbol(p.k, 0))
	assert.Nil(t, u.SourceSymbol(p.a, 2))

	assert.Equal(t, map[*Symbol]*Symbol{p.a: p.a1, p.b: p.b1}, u.SourceSymbolMap(0))

	m := u.SymbolMapping()
	m[p.a][0] = p.k
	assert.Same(t, p.a1, u.SourceSymbol(p.a, 0))
}

func TestUnionNodeValidation(t *testing.T) {
	p := buildUnionPlan(t)
	sources := []PlanNode{p.branch0, p.branch1}
	outputs := []*Symbol{p.a, p.b}
	wrongType := NewSymbol("a", TypeVarchar)

	tests := []struct {
		name    string
		sources []PlanNode
		outputs []*Symbol
		mapping map[*Symbol][]*Symbol
		errMsg  string
	}{
		{"no sources", nil, outputs, nil, "at least one source"},
		{"nil source", []PlanNode{p.branch0, nil}, outputs, nil, "source 1 is nil"},
		{"duplicate output", sources, []*Symbol{p.a, p.a}, map[*Symbol][]*Symbol{p.a: {p.a1, p.a2}}, "duplicate output"},
		{"missing mapping", sources, outputs, map[*Symbol][]*Symbol{p.a: {p.a1, p.a2}}, "mapping has 1 entries"},
		{"mapping for unknown output", sources, outputs, map[*Symbol][]*Symbol{p.a: {p.a1, p.a2}, p.k: {p.b1, p.b2}}, "has no mapping"},
		{"short mapping", sources, outputs, map[*Symbol][]*Symbol{p.a: {p.a1}, p.b: {p.b1, p.b2}}, "maps 1 inputs for 2 sources"},
		{"input from other branch", sources, outputs, map[*Symbol][]*Symbol{p.a: {p.a2, p.a1}, p.b: {p.b1, p.b2}}, "not produced by source 0"},
		{"type mismatch", sources, []*Symbol{wrongType, p.b}, map[*Symbol][]*Symbol{wrongType: {p.a1, p.a2}, p.b: {p.b1, p.b2}}, "does not match output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUnionNode(10, tt.sources, tt.outputs, tt.mapping)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPlan)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestUnionSingleBranch(t *testing.T) {
	p := buildUnionPlan(t)
	u, err := NewUnionNode(10, []PlanNode{p.branch0}, []*Symbol{p.a}, map[*Symbol][]*Symbol{p.a: {p.a1}})
	require.NoError(t, err)
	assert.Equal(t, 1, u.SourceCount())
}

func TestReplaceSources(t *testing.T) {
	p := buildUnionPlan(t)

	same, err := ReplaceSources(p.semiJoin, []PlanNode{p.union, p.filter})
	require.NoError(t, err)
	assert.Same(t, p.semiJoin, same)

	filter2, err := NewTableScanNode(30, "f2", []*Symbol{p.k})
	require.NoError(t, err)
	replaced, err := ReplaceSources(p.semiJoin, []PlanNode{p.union, filter2})
	require.NoError(t, err)

	sj := replaced.(*SemiJoinNode)
	assert.Equal(t, p.semiJoin.ID(), sj.ID())
	assert.Same(t, filter2, sj.FilteringSource())
	assert.Equal(t, p.semiJoin.OutputSymbols(), sj.OutputSymbols())

	_, err = ReplaceSources(p.semiJoin, []PlanNode{p.union})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	// A branch that no longer produces the mapped symbols is rejected.
	other, err := NewTableScanNode(31, "t3", []*Symbol{p.a2, p.b2})
	require.NoError(t, err)
	_, err = ReplaceSources(p.union, []PlanNode{other, p.branch1})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCollectSymbols(t *testing.T) {
	p := buildUnionPlan(t)
	syms := CollectSymbols(p.semiJoin)

	assert.ElementsMatch(t, []*Symbol{p.a, p.b, p.match, p.k, p.a1, p.b1, p.a2, p.b2}, syms)
	assert.Equal(t, []*Symbol{p.a, p.b, p.match}, syms[:3])
}

func TestCountNodesAndWalkPruning(t *testing.T) {
	p := buildUnionPlan(t)
	assert.Equal(t, 5, CountNodes(p.semiJoin))

	var visited []PlanNodeID
	Walk(p.semiJoin, func(n PlanNode) bool {
		visited = append(visited, n.ID())
		return n.Kind() != KindUnion
	})
	assert.Equal(t, []PlanNodeID{5, 4, 3}, visited)
}
