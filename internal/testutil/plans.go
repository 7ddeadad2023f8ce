package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/ir"
)

// SemiJoinOverUnion is the plan
//
//	SemiJoin[match](Union[a, b](t1, ..., tN), f[k])
//
// built through real allocators so that rules see the same symbol namespace
// a compiled plan would have. Branch i (0-based) scans table t<i+1> with
// symbols a<i+1> and b<i+1>.
type SemiJoinOverUnion struct {
	IDs  *alloc.PlanNodeIDAllocator
	Syms *alloc.SymbolAllocator

	A, B, K, Match *ir.Symbol
	BranchA        []*ir.Symbol
	BranchB        []*ir.Symbol

	Branches []*ir.TableScanNode
	Filter   *ir.TableScanNode
	Union    *ir.UnionNode
	SemiJoin *ir.SemiJoinNode
}

// NewSemiJoinOverUnion builds the fixture with the given branch count.
// Node ids are 1..N for the branches, then the filter, the union and the
// semi join; the id allocator continues after the semi join.
func NewSemiJoinOverUnion(t testing.TB, branches int) *SemiJoinOverUnion {
	t.Helper()
	require.Positive(t, branches)

	f := &SemiJoinOverUnion{
		Syms: alloc.NewSymbolAllocator(),
	}
	declare := func(name string, typ ir.VarType) *ir.Symbol {
		s, err := f.Syms.Declare(name, typ)
		require.NoError(t, err)
		return s
	}

	f.A = declare("a", ir.TypeBigint)
	f.B = declare("b", ir.TypeVarchar)
	f.K = declare("k", ir.TypeBigint)
	f.Match = declare("match", ir.TypeBoolean)

	var id ir.PlanNodeID
	sources := make([]ir.PlanNode, branches)
	mapping := map[*ir.Symbol][]*ir.Symbol{}
	for i := 0; i < branches; i++ {
		a := declare(fmt.Sprintf("a%d", i+1), ir.TypeBigint)
		b := declare(fmt.Sprintf("b%d", i+1), ir.TypeVarchar)
		f.BranchA = append(f.BranchA, a)
		f.BranchB = append(f.BranchB, b)

		id++
		scan, err := ir.NewTableScanNode(id, fmt.Sprintf("t%d", i+1), []*ir.Symbol{a, b})
		require.NoError(t, err)
		f.Branches = append(f.Branches, scan)
		sources[i] = scan
	}
	mapping[f.A] = f.BranchA
	mapping[f.B] = f.BranchB

	var err error
	id++
	f.Filter, err = ir.NewTableScanNode(id, "f", []*ir.Symbol{f.K})
	require.NoError(t, err)

	id++
	f.Union, err = ir.NewUnionNode(id, sources, []*ir.Symbol{f.A, f.B}, mapping)
	require.NoError(t, err)

	id++
	f.SemiJoin, err = ir.NewSemiJoinNode(ir.SemiJoinParams{
		ID:                        id,
		Source:                    f.Union,
		FilteringSource:           f.Filter,
		SourceJoinSymbol:          f.A,
		FilteringSourceJoinSymbol: f.K,
		SemiJoinOutput:            f.Match,
	})
	require.NoError(t, err)

	f.IDs = alloc.NewPlanNodeIDAllocatorAt(id)
	return f
}

// ScenarioCUE is the two-branch plan of NewSemiJoinOverUnion written in the
// plan language, under plans.q1.
const ScenarioCUE = `
symbols: {
	a:     "bigint"
	b:     "varchar"
	a1:    "bigint"
	b1:    "varchar"
	a2:    "bigint"
	b2:    "varchar"
	k:     "bigint"
	match: "boolean"
}

plans: q1: semi_join: {
	source: union: {
		sources: [
			{table_scan: {table: "t1", outputs: ["a1", "b1"]}},
			{table_scan: {table: "t2", outputs: ["a2", "b2"]}},
		]
		outputs: ["a", "b"]
		mapping: {
			a: ["a1", "a2"]
			b: ["b1", "b2"]
		}
	}
	filtering_source: table_scan: {table: "f", outputs: ["k"]}
	source_join_symbol:    "a"
	filtering_join_symbol: "k"
	semi_join_output:      "match"
}
`
