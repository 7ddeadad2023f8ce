package ir

import (
	"fmt"
	"slices"
)

// UnionNode concatenates the rows of its sources. Each output symbol is fed
// by one input symbol per source; mapping[o][i] is the symbol of source i
// that feeds output o.
type UnionNode struct {
	id      PlanNodeID
	sources []PlanNode
	outputs []*Symbol
	mapping map[*Symbol][]*Symbol
}

// NewUnionNode validates and builds a union.
//
// Every output must have exactly one mapped input per source. The mapped
// input must be produced by that source and carry the output's type.
func NewUnionNode(id PlanNodeID, sources []PlanNode, outputs []*Symbol, mapping map[*Symbol][]*Symbol) (*UnionNode, error) {
	fail := func(format string, args ...any) (*UnionNode, error) {
		return nil, fmt.Errorf("%w: union %d: %s", ErrInvalidPlan, id, fmt.Sprintf(format, args...))
	}

	if len(sources) == 0 {
		return fail("at least one source is required")
	}
	for i, s := range sources {
		if s == nil {
			return fail("source %d is nil", i)
		}
	}
	if dup := duplicateSymbol(outputs); dup != nil {
		return fail("duplicate output %s", dup)
	}
	if len(mapping) != len(outputs) {
		return fail("mapping has %d entries for %d outputs", len(mapping), len(outputs))
	}

	branchOutputs := make([][]*Symbol, len(sources))
	for i, s := range sources {
		branchOutputs[i] = s.OutputSymbols()
	}

	copied := make(map[*Symbol][]*Symbol, len(outputs))
	for _, o := range outputs {
		inputs, ok := mapping[o]
		if !ok {
			return fail("output %s has no mapping", o)
		}
		if len(inputs) != len(sources) {
			return fail("output %s maps %d inputs for %d sources", o, len(inputs), len(sources))
		}
		for i, in := range inputs {
			if in == nil {
				return fail("output %s has no input for source %d", o, i)
			}
			if !containsSymbol(branchOutputs[i], in) {
				return fail("input %s of output %s is not produced by source %d", in, o, i)
			}
			if in.Type() != o.Type() {
				return fail("input %s (%s) does not match output %s (%s)", in, in.Type(), o, o.Type())
			}
		}
		copied[o] = slices.Clone(inputs)
	}

	return &UnionNode{
		id:      id,
		sources: slices.Clone(sources),
		outputs: slices.Clone(outputs),
		mapping: copied,
	}, nil
}

func (n *UnionNode) ID() PlanNodeID {
	return n.id
}

func (n *UnionNode) Kind() NodeKind {
	return KindUnion
}

func (n *UnionNode) OutputSymbols() []*Symbol {
	return slices.Clone(n.outputs)
}

func (n *UnionNode) Sources() []PlanNode {
	return slices.Clone(n.sources)
}

// SourceCount returns the number of branches.
func (n *UnionNode) SourceCount() int {
	return len(n.sources)
}

// SymbolMapping returns a copy of the output-to-inputs mapping.
func (n *UnionNode) SymbolMapping() map[*Symbol][]*Symbol {
	out := make(map[*Symbol][]*Symbol, len(n.mapping))
	for o, inputs := range n.mapping {
		out[o] = slices.Clone(inputs)
	}
	return out
}

// SourceSymbol returns the symbol of source i that feeds output o, or nil if
// o is not an output of the union or i is out of range.
func (n *UnionNode) SourceSymbol(o *Symbol, i int) *Symbol {
	inputs, ok := n.mapping[o]
	if !ok || i < 0 || i >= len(inputs) {
		return nil
	}
	return inputs[i]
}

// SourceSymbolMap returns, for branch i, the map from each union output to
// the branch symbol feeding it.
func (n *UnionNode) SourceSymbolMap(i int) map[*Symbol]*Symbol {
	out := make(map[*Symbol]*Symbol, len(n.outputs))
	for _, o := range n.outputs {
		out[o] = n.mapping[o][i]
	}
	return out
}

func (n *UnionNode) planNode() {}

func (n *UnionNode) String() string {
	return fmt.Sprintf("Union[%d] sources=%d => %s", n.id, len(n.sources), formatSymbols(n.outputs))
}
