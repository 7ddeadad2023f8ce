package ir

// Walk visits node and its descendants depth-first, parents before children.
// If fn returns false the children of that node are skipped. Subtrees shared
// by several parents are visited once per parent.
func Walk(node PlanNode, fn func(PlanNode) bool) {
	if node == nil || !fn(node) {
		return
	}
	for _, s := range node.Sources() {
		Walk(s, fn)
	}
}

// CollectSymbols returns every distinct symbol referenced anywhere in the
// plan: outputs, join keys, hash symbols, indicators and union inputs.
// Order is first appearance in a depth-first walk.
func CollectSymbols(node PlanNode) []*Symbol {
	var out []*Symbol
	seen := make(map[*Symbol]bool)
	add := func(syms ...*Symbol) {
		for _, s := range syms {
			if s != nil && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}

	Walk(node, func(n PlanNode) bool {
		add(n.OutputSymbols()...)
		switch n := n.(type) {
		case *SemiJoinNode:
			add(n.p.SourceJoinSymbol, n.p.FilteringSourceJoinSymbol, n.p.SemiJoinOutput,
				n.p.SourceHashSymbol, n.p.FilteringSourceHashSymbol)
		case *UnionNode:
			for _, o := range n.outputs {
				add(n.mapping[o]...)
			}
		}
		return true
	})
	return out
}

// CountNodes returns the number of nodes reachable from node, counting a
// shared subtree once per reference.
func CountNodes(node PlanNode) int {
	count := 0
	Walk(node, func(PlanNode) bool {
		count++
		return true
	})
	return count
}
