// Package pattern matches plan shapes for rewrite rules.
//
// It covers exactly what the rules need: match a node by kind, match its
// first source, and capture matched nodes for retrieval by the rule.
package pattern

import (
	"fmt"
	"strings"

	"github.com/roach88/planopt/internal/ir"
)

// Operand is the node kind a pattern level accepts.
type Operand int

const (
	OperandAny Operand = iota
	OperandTableScan
	OperandValues
	OperandSemiJoin
	OperandUnion
	OperandUnsupported
)

var operandNames = map[Operand]string{
	OperandAny:         "any",
	OperandTableScan:   "table_scan",
	OperandValues:      "values",
	OperandSemiJoin:    "semi_join",
	OperandUnion:       "union",
	OperandUnsupported: "unsupported",
}

func (o Operand) String() string {
	if name, ok := operandNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operand(%d)", int(o))
}

// GetOperand returns the operand of a plan node.
func GetOperand(n ir.PlanNode) Operand {
	switch n.(type) {
	case *ir.TableScanNode:
		return OperandTableScan
	case *ir.ValuesNode:
		return OperandValues
	case *ir.SemiJoinNode:
		return OperandSemiJoin
	case *ir.UnionNode:
		return OperandUnion
	}
	return OperandUnsupported
}

// Match reports whether a node with operand t satisfies o.
func (o Operand) Match(t Operand) bool {
	if t == OperandUnsupported {
		return false
	}
	return o == OperandAny || o == t
}

// Capture names a node bound during matching. Captures compare by identity,
// so two captures with the same name are still distinct slots.
type Capture struct {
	name string
}

func NewCapture(name string) *Capture {
	return &Capture{name: name}
}

func (c *Capture) String() string {
	return c.name
}

// Captures holds the nodes bound by a successful match.
type Captures struct {
	nodes map[*Capture]ir.PlanNode
}

// Get returns the node bound to c.
func (cs Captures) Get(c *Capture) (ir.PlanNode, bool) {
	n, ok := cs.nodes[c]
	return n, ok
}

// Len returns the number of bound captures.
func (cs Captures) Len() int {
	return len(cs.nodes)
}

func (cs Captures) with(c *Capture, n ir.PlanNode) Captures {
	nodes := make(map[*Capture]ir.PlanNode, len(cs.nodes)+1)
	for k, v := range cs.nodes {
		nodes[k] = v
	}
	nodes[c] = n
	return Captures{nodes: nodes}
}

// Pattern is an immutable shape description. Builder methods return a new
// pattern and leave the receiver untouched.
type Pattern struct {
	operand Operand
	source  *Pattern
	capture *Capture
}

// Typed matches any node of the given operand.
func Typed(operand Operand) *Pattern {
	return &Pattern{operand: operand}
}

// WithSource additionally requires the first source of the node to match
// src. Nodes without sources never match.
func (p *Pattern) WithSource(src *Pattern) *Pattern {
	cp := *p
	cp.source = src
	return &cp
}

// CapturedAs binds the matched node to c.
func (p *Pattern) CapturedAs(c *Capture) *Pattern {
	cp := *p
	cp.capture = c
	return &cp
}

// Operand returns the operand of the pattern root. The driver uses it to
// index rules by node kind.
func (p *Pattern) Operand() Operand {
	return p.operand
}

// Match tests n against the pattern. On success it returns the captures
// bound anywhere in the pattern.
func (p *Pattern) Match(n ir.PlanNode) (Captures, bool) {
	return p.match(n, Captures{})
}

func (p *Pattern) match(n ir.PlanNode, cs Captures) (Captures, bool) {
	if n == nil || !p.operand.Match(GetOperand(n)) {
		return Captures{}, false
	}
	if p.capture != nil {
		cs = cs.with(p.capture, n)
	}
	if p.source == nil {
		return cs, true
	}
	sources := n.Sources()
	if len(sources) == 0 {
		return Captures{}, false
	}
	return p.source.match(sources[0], cs)
}

func (p *Pattern) String() string {
	var b strings.Builder
	b.WriteString(p.operand.String())
	if p.capture != nil {
		b.WriteString(" as ")
		b.WriteString(p.capture.name)
	}
	if p.source != nil {
		b.WriteString(" <- ")
		b.WriteString(p.source.String())
	}
	return b.String()
}
