package ir

import "fmt"

// ReplaceSources returns node rebuilt over new children, keeping its id and
// every other attribute. If every child is unchanged (pointer equal) the
// node itself is returned.
//
// Replacement children must produce the symbols the node refers to; the
// node constructors reject anything else with ErrInvalidPlan.
func ReplaceSources(node PlanNode, sources []PlanNode) (PlanNode, error) {
	old := node.Sources()
	if len(old) != len(sources) {
		return nil, fmt.Errorf("%w: %s %d: expected %d sources, got %d",
			ErrInvalidPlan, node.Kind(), node.ID(), len(old), len(sources))
	}
	if samePlanNodes(old, sources) {
		return node, nil
	}

	switch n := node.(type) {
	case *SemiJoinNode:
		p := n.Params()
		p.Source = sources[0]
		p.FilteringSource = sources[1]
		sj, err := NewSemiJoinNode(p)
		if err != nil {
			return nil, err
		}
		return sj, nil
	case *UnionNode:
		u, err := NewUnionNode(n.id, sources, n.outputs, n.mapping)
		if err != nil {
			return nil, err
		}
		return u, nil
	case *TableScanNode, *ValuesNode:
		// Leaves have no sources, so samePlanNodes already returned.
		return node, nil
	default:
		return nil, fmt.Errorf("%w: cannot replace sources of %T", ErrInvalidPlan, node)
	}
}

func samePlanNodes(a, b []PlanNode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
