package rule

import (
	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/session"
)

// Rule is a rewrite rule.
type Rule interface {
	// Name identifies the rule in logs and traces.
	Name() string

	// Pattern is the shape a node must have for Apply to be called.
	Pattern() *pattern.Pattern

	// IsEnabled is a pure gating check on session properties.
	IsEnabled(s *session.Session) bool

	// Apply rewrites a matched node. captures are the ones produced by
	// Pattern().Match(node).
	Apply(node ir.PlanNode, captures pattern.Captures, ctx Context) (Result, error)
}

// Context supplies fresh identities to a rule. Implementations must be safe
// for concurrent use.
type Context interface {
	// NextNodeID returns an id no other node of the optimization uses.
	NextNodeID() ir.PlanNodeID

	// NewSymbol returns a symbol typed like like whose name collides with no
	// symbol of the optimization.
	NewSymbol(like *ir.Symbol) *ir.Symbol
}

// Result is the outcome of Apply: either unchanged or a replacement node.
type Result struct {
	node ir.PlanNode
}

// Unchanged reports that the rule did not rewrite the node.
func Unchanged() Result {
	return Result{}
}

// Replace reports a replacement for the matched node.
func Replace(node ir.PlanNode) Result {
	return Result{node: node}
}

// IsEmpty reports whether the result is Unchanged.
func (r Result) IsEmpty() bool {
	return r.node == nil
}

// Node returns the replacement, or nil.
func (r Result) Node() ir.PlanNode {
	return r.node
}

// PlannerContext is the Context backed by the allocators of one
// optimization.
type PlannerContext struct {
	ids  *alloc.PlanNodeIDAllocator
	syms *alloc.SymbolAllocator
}

func NewPlannerContext(ids *alloc.PlanNodeIDAllocator, syms *alloc.SymbolAllocator) *PlannerContext {
	return &PlannerContext{ids: ids, syms: syms}
}

func (c *PlannerContext) NextNodeID() ir.PlanNodeID {
	return c.ids.NextID()
}

func (c *PlannerContext) NewSymbol(like *ir.Symbol) *ir.Symbol {
	return c.syms.NewSymbol(like)
}

// Default returns the rule set of the optimizer.
func Default() []Rule {
	return []Rule{
		NewPushSemiJoinThroughUnion(),
	}
}
