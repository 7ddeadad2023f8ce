package ir

import (
	"strings"
)

// Format renders a plan as an indented tree, one node per line with its
// children four spaces deeper. Union mappings are printed under the union.
//
//	- Union[7] sources=2 => [a:bigint, match:boolean]
//	        a := (a1, a2)
//	        match := (match_1, match_2)
//	    - SemiJoin[5] a1 = k indicator=match_1 => [a1:bigint, match_1:boolean]
func Format(node PlanNode) string {
	var b strings.Builder
	formatNode(&b, node, 0)
	return b.String()
}

func formatNode(b *strings.Builder, node PlanNode, depth int) {
	indent := strings.Repeat("    ", depth)
	b.WriteString(indent)
	b.WriteString("- ")
	b.WriteString(node.String())
	b.WriteByte('\n')

	if u, ok := node.(*UnionNode); ok {
		for _, o := range u.outputs {
			b.WriteString(indent)
			b.WriteString("        ")
			b.WriteString(o.name)
			b.WriteString(" := (")
			for i, in := range u.mapping[o] {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(in.name)
			}
			b.WriteString(")\n")
		}
	}

	for _, s := range node.Sources() {
		formatNode(b, s, depth+1)
	}
}
