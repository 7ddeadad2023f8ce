package alloc

import (
	"sync/atomic"

	"github.com/roach88/planopt/internal/ir"
)

// PlanNodeIDAllocator hands out strictly increasing plan node ids.
type PlanNodeIDAllocator struct {
	next atomic.Int64
}

// NewPlanNodeIDAllocator creates an allocator whose first id is 1.
func NewPlanNodeIDAllocator() *PlanNodeIDAllocator {
	return &PlanNodeIDAllocator{}
}

// NewPlanNodeIDAllocatorAt creates an allocator whose first id is start+1.
// Used after compiling or decoding a plan so new nodes never reuse an id
// already in it.
func NewPlanNodeIDAllocatorAt(start ir.PlanNodeID) *PlanNodeIDAllocator {
	a := &PlanNodeIDAllocator{}
	a.next.Store(int64(start))
	return a
}

// NextID returns a fresh id. Calls are linearizable.
func (a *PlanNodeIDAllocator) NextID() ir.PlanNodeID {
	return ir.PlanNodeID(a.next.Add(1))
}

// Current returns the last id handed out, or the start value.
func (a *PlanNodeIDAllocator) Current() ir.PlanNodeID {
	return ir.PlanNodeID(a.next.Load())
}

// Observe raises the allocator past id so later NextID calls cannot return
// it. Ids below the current position are ignored.
func (a *PlanNodeIDAllocator) Observe(id ir.PlanNodeID) {
	for {
		cur := a.next.Load()
		if int64(id) <= cur || a.next.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}
