package ir

import (
	"github.com/tidwall/btree"
)

// Index is an ordered view of the nodes of a plan keyed by id. Each distinct
// node is indexed once even when it is shared by several parents.
type Index struct {
	nodes      *btree.BTreeG[indexEntry]
	duplicates []PlanNodeID
}

type indexEntry struct {
	id   PlanNodeID
	node PlanNode
}

// NewIndex walks the plan and indexes every node. Two distinct nodes with
// the same id are recorded as duplicates; the first one seen is kept.
func NewIndex(root PlanNode) *Index {
	idx := &Index{
		nodes: btree.NewBTreeG(func(a, b indexEntry) bool {
			return a.id < b.id
		}),
	}
	visited := make(map[PlanNode]bool)
	Walk(root, func(n PlanNode) bool {
		if visited[n] {
			return false
		}
		visited[n] = true
		if prev, ok := idx.nodes.Get(indexEntry{id: n.ID()}); ok && prev.node != n {
			idx.duplicates = append(idx.duplicates, n.ID())
			return true
		}
		idx.nodes.Set(indexEntry{id: n.ID(), node: n})
		return true
	})
	return idx
}

// Lookup returns the node with the given id.
func (idx *Index) Lookup(id PlanNodeID) (PlanNode, bool) {
	e, ok := idx.nodes.Get(indexEntry{id: id})
	if !ok {
		return nil, false
	}
	return e.node, true
}

// Len returns the number of distinct node ids.
func (idx *Index) Len() int {
	return idx.nodes.Len()
}

// IDs returns every indexed id in ascending order.
func (idx *Index) IDs() []PlanNodeID {
	ids := make([]PlanNodeID, 0, idx.nodes.Len())
	idx.nodes.Scan(func(e indexEntry) bool {
		ids = append(ids, e.id)
		return true
	})
	return ids
}

// MaxID returns the largest indexed id, or 0 for an empty index.
func (idx *Index) MaxID() PlanNodeID {
	e, ok := idx.nodes.Max()
	if !ok {
		return 0
	}
	return e.id
}

// Duplicates returns ids claimed by more than one distinct node, in the
// order they were found.
func (idx *Index) Duplicates() []PlanNodeID {
	return idx.duplicates
}
