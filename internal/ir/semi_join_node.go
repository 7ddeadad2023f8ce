package ir

import (
	"fmt"
	"slices"
)

// SemiJoinParams holds the attributes of a SemiJoinNode. It is the input of
// NewSemiJoinNode and the value returned by (*SemiJoinNode).Params, so a
// rewrite can copy a node, change a few fields and rebuild it.
type SemiJoinParams struct {
	ID PlanNodeID

	// Source is the probe input. Its rows and columns survive.
	Source PlanNode

	// FilteringSource is consulted only for match existence.
	FilteringSource PlanNode

	SourceJoinSymbol          *Symbol
	FilteringSourceJoinSymbol *Symbol

	// SemiJoinOutput is the boolean match indicator.
	SemiJoinOutput *Symbol

	// Optional precomputed hash symbols.
	SourceHashSymbol          *Symbol
	FilteringSourceHashSymbol *Symbol

	// Outputs is the explicit output list. Nil means every probe output
	// followed by SemiJoinOutput.
	Outputs []*Symbol
}

// SemiJoinNode annotates each probe row with whether a matching row exists in
// the filtering input. It never projects filtering-input columns.
type SemiJoinNode struct {
	p SemiJoinParams
}

// NewSemiJoinNode validates p and builds the node.
//
// Invariants:
//   - SemiJoinOutput is boolean and not a probe output
//   - SourceJoinSymbol (and SourceHashSymbol) are probe outputs
//   - FilteringSourceJoinSymbol (and FilteringSourceHashSymbol) are filtering outputs
//   - Outputs is a duplicate-free subset of probe outputs plus SemiJoinOutput
func NewSemiJoinNode(p SemiJoinParams) (*SemiJoinNode, error) {
	fail := func(format string, args ...any) (*SemiJoinNode, error) {
		return nil, fmt.Errorf("%w: semi_join %d: %s", ErrInvalidPlan, p.ID, fmt.Sprintf(format, args...))
	}

	if p.Source == nil || p.FilteringSource == nil {
		return fail("source and filtering source are required")
	}
	if p.SourceJoinSymbol == nil || p.FilteringSourceJoinSymbol == nil || p.SemiJoinOutput == nil {
		return fail("join symbols and semi join output are required")
	}
	if p.SemiJoinOutput.Type() != TypeBoolean {
		return fail("semi join output %s must be boolean, got %s", p.SemiJoinOutput, p.SemiJoinOutput.Type())
	}

	sourceOutputs := p.Source.OutputSymbols()
	filteringOutputs := p.FilteringSource.OutputSymbols()

	if containsSymbol(sourceOutputs, p.SemiJoinOutput) {
		return fail("semi join output %s is already produced by the source", p.SemiJoinOutput)
	}
	if !containsSymbol(sourceOutputs, p.SourceJoinSymbol) {
		return fail("source join symbol %s is not a source output", p.SourceJoinSymbol)
	}
	if !containsSymbol(filteringOutputs, p.FilteringSourceJoinSymbol) {
		return fail("filtering join symbol %s is not a filtering source output", p.FilteringSourceJoinSymbol)
	}
	if p.SourceHashSymbol != nil && !containsSymbol(sourceOutputs, p.SourceHashSymbol) {
		return fail("source hash symbol %s is not a source output", p.SourceHashSymbol)
	}
	if p.FilteringSourceHashSymbol != nil && !containsSymbol(filteringOutputs, p.FilteringSourceHashSymbol) {
		return fail("filtering hash symbol %s is not a filtering source output", p.FilteringSourceHashSymbol)
	}

	if p.Outputs == nil {
		p.Outputs = append(slices.Clone(sourceOutputs), p.SemiJoinOutput)
	} else {
		p.Outputs = slices.Clone(p.Outputs)
	}
	if dup := duplicateSymbol(p.Outputs); dup != nil {
		return fail("duplicate output %s", dup)
	}
	for _, o := range p.Outputs {
		if o == p.SemiJoinOutput || containsSymbol(sourceOutputs, o) {
			continue
		}
		if containsSymbol(filteringOutputs, o) {
			return fail("output %s comes from the filtering source", o)
		}
		return fail("output %s is neither a source output nor the semi join output", o)
	}

	return &SemiJoinNode{p: p}, nil
}

// Params returns a copy of the node's attributes.
func (n *SemiJoinNode) Params() SemiJoinParams {
	p := n.p
	p.Outputs = slices.Clone(n.p.Outputs)
	return p
}

func (n *SemiJoinNode) ID() PlanNodeID {
	return n.p.ID
}

func (n *SemiJoinNode) Kind() NodeKind {
	return KindSemiJoin
}

func (n *SemiJoinNode) OutputSymbols() []*Symbol {
	return slices.Clone(n.p.Outputs)
}

// Sources returns the probe input followed by the filtering input.
func (n *SemiJoinNode) Sources() []PlanNode {
	return []PlanNode{n.p.Source, n.p.FilteringSource}
}

func (n *SemiJoinNode) Source() PlanNode                   { return n.p.Source }
func (n *SemiJoinNode) FilteringSource() PlanNode          { return n.p.FilteringSource }
func (n *SemiJoinNode) SourceJoinSymbol() *Symbol          { return n.p.SourceJoinSymbol }
func (n *SemiJoinNode) FilteringSourceJoinSymbol() *Symbol { return n.p.FilteringSourceJoinSymbol }
func (n *SemiJoinNode) SemiJoinOutput() *Symbol            { return n.p.SemiJoinOutput }
func (n *SemiJoinNode) SourceHashSymbol() *Symbol          { return n.p.SourceHashSymbol }
func (n *SemiJoinNode) FilteringSourceHashSymbol() *Symbol { return n.p.FilteringSourceHashSymbol }

func (n *SemiJoinNode) planNode() {}

func (n *SemiJoinNode) String() string {
	return fmt.Sprintf("SemiJoin[%d] %s = %s indicator=%s => %s",
		n.p.ID, n.p.SourceJoinSymbol, n.p.FilteringSourceJoinSymbol, n.p.SemiJoinOutput, formatSymbols(n.p.Outputs))
}
