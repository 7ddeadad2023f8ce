package ir

import (
	"fmt"
	"slices"
)

// NodeKind identifies a PlanNode variant.
type NodeKind int

const (
	KindTableScan NodeKind = iota + 1
	KindValues
	KindSemiJoin
	KindUnion
)

var nodeKindNames = map[NodeKind]string{
	KindTableScan: "table_scan",
	KindValues:    "values",
	KindSemiJoin:  "semi_join",
	KindUnion:     "union",
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseNodeKind maps a serialized kind name back to its NodeKind.
func ParseNodeKind(s string) (NodeKind, bool) {
	for k, name := range nodeKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// PlanNode is the static structure of a relational plan. It is a closed set:
// only the node types in this package implement it.
type PlanNode interface {
	// ID returns the node id.
	ID() PlanNodeID

	// Kind returns the variant tag.
	Kind() NodeKind

	// OutputSymbols returns the symbols this node produces, in order.
	OutputSymbols() []*Symbol

	// Sources returns the child nodes.
	Sources() []PlanNode

	// String returns a one-line description.
	String() string

	planNode()
}

// TableScanNode reads a table. It is a leaf.
type TableScanNode struct {
	id      PlanNodeID
	table   string
	outputs []*Symbol
}

func NewTableScanNode(id PlanNodeID, table string, outputs []*Symbol) (*TableScanNode, error) {
	if table == "" {
		return nil, fmt.Errorf("%w: table_scan %d: table name is required", ErrInvalidPlan, id)
	}
	if dup := duplicateSymbol(outputs); dup != nil {
		return nil, fmt.Errorf("%w: table_scan %d: duplicate output %s", ErrInvalidPlan, id, dup)
	}
	return &TableScanNode{id: id, table: table, outputs: slices.Clone(outputs)}, nil
}

func (n *TableScanNode) ID() PlanNodeID {
	return n.id
}

func (n *TableScanNode) Kind() NodeKind {
	return KindTableScan
}

func (n *TableScanNode) OutputSymbols() []*Symbol {
	return slices.Clone(n.outputs)
}

func (n *TableScanNode) Sources() []PlanNode {
	return nil
}

func (n *TableScanNode) Table() string {
	return n.table
}

func (n *TableScanNode) planNode() {}

func (n *TableScanNode) String() string {
	return fmt.Sprintf("TableScan[%d] %s => %s", n.id, n.table, formatSymbols(n.outputs))
}

// ValuesNode produces a fixed number of literal rows. It is a leaf.
type ValuesNode struct {
	id      PlanNodeID
	outputs []*Symbol
	rows    int
}

func NewValuesNode(id PlanNodeID, outputs []*Symbol, rows int) (*ValuesNode, error) {
	if rows < 0 {
		return nil, fmt.Errorf("%w: values %d: negative row count %d", ErrInvalidPlan, id, rows)
	}
	if dup := duplicateSymbol(outputs); dup != nil {
		return nil, fmt.Errorf("%w: values %d: duplicate output %s", ErrInvalidPlan, id, dup)
	}
	return &ValuesNode{id: id, outputs: slices.Clone(outputs), rows: rows}, nil
}

func (n *ValuesNode) ID() PlanNodeID {
	return n.id
}

func (n *ValuesNode) Kind() NodeKind {
	return KindValues
}

func (n *ValuesNode) OutputSymbols() []*Symbol {
	return slices.Clone(n.outputs)
}

func (n *ValuesNode) Sources() []PlanNode {
	return nil
}

func (n *ValuesNode) Rows() int {
	return n.rows
}

func (n *ValuesNode) planNode() {}

func (n *ValuesNode) String() string {
	return fmt.Sprintf("Values[%d] rows=%d => %s", n.id, n.rows, formatSymbols(n.outputs))
}
