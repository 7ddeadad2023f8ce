package engine

import (
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
)

var concreteOperands = []pattern.Operand{
	pattern.OperandTableScan,
	pattern.OperandValues,
	pattern.OperandSemiJoin,
	pattern.OperandUnion,
}

// ruleIndex groups rules by the operand at the root of their pattern so a
// node is only offered to rules that can match it. Rules rooted at
// OperandAny appear under every operand. Each group keeps declaration order.
type ruleIndex struct {
	byOperand map[pattern.Operand][]rule.Rule
}

func newRuleIndex(rules []rule.Rule) *ruleIndex {
	idx := &ruleIndex{byOperand: make(map[pattern.Operand][]rule.Rule)}
	for _, r := range rules {
		root := r.Pattern().Operand()
		for _, op := range concreteOperands {
			if root.Match(op) {
				idx.byOperand[op] = append(idx.byOperand[op], r)
			}
		}
	}
	return idx
}

// candidates returns the rules whose root operand accepts n.
func (idx *ruleIndex) candidates(n ir.PlanNode) []rule.Rule {
	return idx.byOperand[pattern.GetOperand(n)]
}

// matchRule reports whether r should be applied to n. The session check
// comes first so a disabled rule never sees the node.
func matchRule(r rule.Rule, n ir.PlanNode, sess *session.Session) (pattern.Captures, bool) {
	if !r.IsEnabled(sess) {
		return pattern.Captures{}, false
	}
	return r.Pattern().Match(n)
}
