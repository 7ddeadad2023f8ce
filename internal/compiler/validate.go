package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/planopt/internal/ir"
)

// Plan validation error codes (E200-E299)
const (
	ErrNilPlan            = "E200" // plan has no root
	ErrDuplicateNodeID    = "E201" // node id used by two distinct nodes
	ErrSymbolRedefined    = "E202" // symbol produced by more than one node
	ErrSymbolNameConflict = "E203" // distinct symbols share a name
	ErrFilteringLeak      = "E204" // semi join outputs a filtering-side symbol
	ErrUnionMapping       = "E205" // union mapping inconsistent with sources
	ErrIndicatorType      = "E206" // semi join output is not boolean
	ErrInvalidSymbolType  = "E207" // symbol has an unknown type
)

// ValidationError represents a plan validation error.
type ValidationError struct {
	Field   string        `json:"field"`
	Message string        `json:"message"`
	Code    string        `json:"code"`
	NodeID  ir.PlanNodeID `json:"node_id,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.NodeID > 0 {
		return fmt.Sprintf("[%s] node %d: %s: %s", e.Code, e.NodeID, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidatePlan checks the whole-plan properties that node constructors
// cannot see on their own. Returns all errors found (does not fail-fast).
func ValidatePlan(root ir.PlanNode) []ValidationError {
	if root == nil {
		return []ValidationError{{
			Field:   "plan",
			Message: "plan is nil",
			Code:    ErrNilPlan,
		}}
	}

	var errs []ValidationError

	// E201: node ids are unique across distinct nodes
	idx := ir.NewIndex(root)
	for _, id := range idx.Duplicates() {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("node id %d is used by more than one node", id),
			Code:    ErrDuplicateNodeID,
			NodeID:  id,
		})
	}

	definedBy := make(map[*ir.Symbol]ir.PlanNode)
	byName := make(map[string]*ir.Symbol)
	define := func(n ir.PlanNode, field string, s *ir.Symbol) {
		// E202: one producer per symbol
		if prev, ok := definedBy[s]; ok && prev != n {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("symbol %s is already produced by node %d", s, prev.ID()),
				Code:    ErrSymbolRedefined,
				NodeID:  n.ID(),
			})
			return
		}
		definedBy[s] = n
	}

	seen := make(map[ir.PlanNode]bool)
	ir.Walk(root, func(n ir.PlanNode) bool {
		if seen[n] {
			return false
		}
		seen[n] = true

		switch node := n.(type) {
		case *ir.TableScanNode, *ir.ValuesNode:
			for _, s := range node.OutputSymbols() {
				define(node, "outputs", s)
			}
		case *ir.UnionNode:
			for _, s := range node.OutputSymbols() {
				define(node, "outputs", s)
			}
			errs = append(errs, validateUnion(node)...)
		case *ir.SemiJoinNode:
			define(node, "semi_join_output", node.SemiJoinOutput())
			errs = append(errs, validateSemiJoin(node)...)
		}
		return true
	})

	// E203 / E207: symbol names and types
	for _, s := range ir.CollectSymbols(root) {
		if prev, ok := byName[s.Name()]; ok && prev != s {
			errs = append(errs, ValidationError{
				Field:   "symbols",
				Message: fmt.Sprintf("name %q is bound to two distinct symbols", s.Name()),
				Code:    ErrSymbolNameConflict,
			})
			continue
		}
		byName[s.Name()] = s
		if !s.Type().Valid() {
			errs = append(errs, ValidationError{
				Field:   "symbols",
				Message: fmt.Sprintf("symbol %s has unknown type", s),
				Code:    ErrInvalidSymbolType,
			})
		}
	}

	return errs
}

func validateSemiJoin(n *ir.SemiJoinNode) []ValidationError {
	var errs []ValidationError

	// E206: indicator is boolean
	if n.SemiJoinOutput().Type() != ir.TypeBoolean {
		errs = append(errs, ValidationError{
			Field:   "semi_join_output",
			Message: fmt.Sprintf("indicator %s must be boolean", n.SemiJoinOutput()),
			Code:    ErrIndicatorType,
			NodeID:  n.ID(),
		})
	}

	// E204: nothing from the filtering side leaks into the outputs
	source := n.Source().OutputSymbols()
	filtering := n.FilteringSource().OutputSymbols()
	for _, s := range n.OutputSymbols() {
		if slices.Contains(filtering, s) && !slices.Contains(source, s) {
			errs = append(errs, ValidationError{
				Field:   "outputs",
				Message: fmt.Sprintf("symbol %s comes from the filtering source", s),
				Code:    ErrFilteringLeak,
				NodeID:  n.ID(),
			})
		}
	}
	return errs
}

func validateUnion(n *ir.UnionNode) []ValidationError {
	var errs []ValidationError

	// E205: every output maps to one input per source, produced by that source
	for _, out := range n.OutputSymbols() {
		for i, src := range n.Sources() {
			in := n.SourceSymbol(out, i)
			if in == nil || !slices.Contains(src.OutputSymbols(), in) {
				errs = append(errs, ValidationError{
					Field:   "mapping",
					Message: fmt.Sprintf("output %s has no input from source %d", out, i),
					Code:    ErrUnionMapping,
					NodeID:  n.ID(),
				})
				continue
			}
			if in.Type() != out.Type() {
				errs = append(errs, ValidationError{
					Field:   "mapping",
					Message: fmt.Sprintf("input %s from source %d does not match output %s", in, i, out),
					Code:    ErrUnionMapping,
					NodeID:  n.ID(),
				})
			}
		}
	}
	return errs
}
