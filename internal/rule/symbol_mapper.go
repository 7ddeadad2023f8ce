package rule

import (
	"fmt"
	"maps"

	"github.com/roach88/planopt/internal/ir"
)

// SymbolMapper rebuilds a node with its symbol references substituted and
// its probe-side child replaced. Symbols absent from the mapping are kept.
type SymbolMapper struct {
	mapping map[*ir.Symbol]*ir.Symbol
}

// NewSymbolMapper copies mapping; later changes to it are not seen.
func NewSymbolMapper(mapping map[*ir.Symbol]*ir.Symbol) *SymbolMapper {
	return &SymbolMapper{mapping: maps.Clone(mapping)}
}

// MapSymbol returns the substitute for s, or s itself.
func (m *SymbolMapper) MapSymbol(s *ir.Symbol) *ir.Symbol {
	if s == nil {
		return nil
	}
	if to, ok := m.mapping[s]; ok {
		return to
	}
	return s
}

// MapSymbols maps every element of list.
func (m *SymbolMapper) MapSymbols(list []*ir.Symbol) []*ir.Symbol {
	out := make([]*ir.Symbol, len(list))
	for i, s := range list {
		out[i] = m.MapSymbol(s)
	}
	return out
}

// MapAndDistinct maps list and drops repeats, keeping the first
// occurrence. Two symbols that map to the same target become one column.
func (m *SymbolMapper) MapAndDistinct(list []*ir.Symbol) []*ir.Symbol {
	out := make([]*ir.Symbol, 0, len(list))
	seen := make(map[*ir.Symbol]bool, len(list))
	for _, s := range list {
		to := m.MapSymbol(s)
		if seen[to] {
			continue
		}
		seen[to] = true
		out = append(out, to)
	}
	return out
}

// Map returns a copy of node with id newID, source as its probe child and
// every probe-side symbol reference mapped. The filtering child and the
// filtering-side symbols are shared unchanged. Outputs that map to the
// same symbol collapse into one.
//
// Only semi joins can be rebuilt; any other kind is an
// ErrCodeUnsupportedNode contract error.
func (m *SymbolMapper) Map(node ir.PlanNode, source ir.PlanNode, newID ir.PlanNodeID) (ir.PlanNode, error) {
	switch n := node.(type) {
	case *ir.SemiJoinNode:
		return m.mapSemiJoin(n, source, newID)
	case *ir.UnionNode, *ir.TableScanNode, *ir.ValuesNode:
		return nil, &ContractError{
			Code:    ErrCodeUnsupportedNode,
			NodeID:  node.ID(),
			Message: fmt.Sprintf("symbol mapper cannot rebuild %s", node.Kind()),
		}
	default:
		return nil, &ContractError{
			Code:    ErrCodeUnsupportedNode,
			Message: fmt.Sprintf("symbol mapper cannot rebuild %T", node),
		}
	}
}

func (m *SymbolMapper) mapSemiJoin(n *ir.SemiJoinNode, source ir.PlanNode, newID ir.PlanNodeID) (ir.PlanNode, error) {
	p := n.Params()
	p.ID = newID
	p.Source = source
	p.SourceJoinSymbol = m.MapSymbol(p.SourceJoinSymbol)
	p.SourceHashSymbol = m.MapSymbol(p.SourceHashSymbol)
	p.SemiJoinOutput = m.MapSymbol(p.SemiJoinOutput)
	p.Outputs = m.MapAndDistinct(p.Outputs)

	sj, err := ir.NewSemiJoinNode(p)
	if err != nil {
		return nil, &ContractError{
			Code:    ErrCodeInvalidRewrite,
			NodeID:  n.ID(),
			Message: "mapped semi join is invalid",
			Err:     err,
		}
	}
	return sj, nil
}
