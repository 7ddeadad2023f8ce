package alloc

import (
	"fmt"

	"github.com/roach88/planopt/internal/ir"
)

// ForPlan returns allocators scoped to one plan: node ids continue after the
// largest id in root, and the symbol namespace holds exactly the symbols
// root references. Two calls on equal plans hand out equal identities, which
// is what makes a stored run reproducible.
func ForPlan(root ir.PlanNode) (*PlanNodeIDAllocator, *SymbolAllocator, error) {
	if root == nil {
		return nil, nil, fmt.Errorf("plan is nil")
	}
	syms := NewSymbolAllocator()
	if err := syms.Register(ir.CollectSymbols(root)...); err != nil {
		return nil, nil, err
	}
	return NewPlanNodeIDAllocatorAt(ir.NewIndex(root).MaxID()), syms, nil
}
