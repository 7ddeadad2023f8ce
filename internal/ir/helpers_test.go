package ir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// mapTable is a minimal SymbolTable for decoding in tests.
type mapTable map[string]*Symbol

func (m mapTable) Declare(name string, typ VarType) (*Symbol, error) {
	if s, ok := m[name]; ok {
		if s.Type() != typ {
			return nil, fmt.Errorf("symbol %s redeclared as %s", name, typ)
		}
		return s, nil
	}
	s := NewSymbol(name, typ)
	m[name] = s
	return s, nil
}

type unionPlan struct {
	a, b, a1, b1, a2, b2, k, match *Symbol
	branch0, branch1, filter       *TableScanNode
	union                          *UnionNode
	semiJoin                       *SemiJoinNode
}

// buildUnionPlan builds SemiJoin(Union(t1, t2), f) with outputs a, b, match.
func buildUnionPlan(t *testing.T) *unionPlan {
	t.Helper()
	p := &unionPlan{
		a:     NewSymbol("a", TypeBigint),
		b:     NewSymbol("b", TypeVarchar),
		a1:    NewSymbol("a1", TypeBigint),
		b1:    NewSymbol("b1", TypeVarchar),
		a2:    NewSymbol("a2", TypeBigint),
		b2:    NewSymbol("b2", TypeVarchar),
		k:     NewSymbol("k", TypeBigint),
		match: NewSymbol("match", TypeBoolean),
	}

	var err error
	p.branch0, err = NewTableScanNode(1, "t1", []*Symbol{p.a1, p.b1})
	require.NoError(t, err)
	p.branch1, err = NewTableScanNode(2, "t2", []*Symbol{p.a2, p.b2})
	require.NoError(t, err)
	p.filter, err = NewTableScanNode(3, "f", []*Symbol{p.k})
	require.NoError(t, err)

	p.union, err = NewUnionNode(4, []PlanNode{p.branch0, p.branch1}, []*Symbol{p.a, p.b}, map[*Symbol][]*Symbol{
		p.a: {p.a1, p.a2},
		p.b: {p.b1, p.b2},
	})
	require.NoError(t, err)

	p.semiJoin, err = NewSemiJoinNode(SemiJoinParams{
		ID:                        5,
		Source:                    p.union,
		FilteringSource:           p.filter,
		SourceJoinSymbol:          p.a,
		FilteringSourceJoinSymbol: p.k,
		SemiJoinOutput:            p.match,
	})
	require.NoError(t, err)
	return p
}
