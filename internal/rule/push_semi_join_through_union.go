package rule

import (
	"errors"
	"fmt"
	"maps"

	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/session"
)

// PushSemiJoinThroughUnion distributes a semi join over the union feeding
// its probe side:
//
//	SemiJoin(Union(s0, ..., sN-1), f)  =>  Union(SemiJoin(s0, f), ..., SemiJoin(sN-1, f))
//
// Each branch gets its own match indicator symbol. Pass-through columns use
// the branch symbols the union already maps. The filtering input is shared
// by every new semi join.
type PushSemiJoinThroughUnion struct {
	union   *pattern.Capture
	pattern *pattern.Pattern
}

func NewPushSemiJoinThroughUnion() *PushSemiJoinThroughUnion {
	union := pattern.NewCapture("union")
	return &PushSemiJoinThroughUnion{
		union: union,
		pattern: pattern.Typed(pattern.OperandSemiJoin).
			WithSource(pattern.Typed(pattern.OperandUnion).CapturedAs(union)),
	}
}

func (r *PushSemiJoinThroughUnion) Name() string {
	return "push_semi_join_through_union"
}

func (r *PushSemiJoinThroughUnion) Pattern() *pattern.Pattern {
	return r.pattern
}

func (r *PushSemiJoinThroughUnion) IsEnabled(s *session.Session) bool {
	return s.PushSemiJoinThroughUnion
}

func (r *PushSemiJoinThroughUnion) Apply(node ir.PlanNode, captures pattern.Captures, ctx Context) (Result, error) {
	semiJoin, ok := node.(*ir.SemiJoinNode)
	if !ok {
		return Result{}, r.contractError(ErrCodeUnsupportedNode, node, fmt.Sprintf("expected *ir.SemiJoinNode, got %T", node), nil)
	}
	captured, ok := captures.Get(r.union)
	if !ok {
		return Result{}, r.contractError(ErrCodeMissingCapture, node, "union capture is not bound", nil)
	}
	union, ok := captured.(*ir.UnionNode)
	if !ok || semiJoin.Source() != captured {
		return Result{}, r.contractError(ErrCodeMissingCapture, node, "captured node is not the probe-side union", nil)
	}

	// Branches run in order so fresh symbol names are deterministic.
	sources := make([]ir.PlanNode, union.SourceCount())
	branchOutputs := make([]map[*ir.Symbol]*ir.Symbol, union.SourceCount())
	for i := range sources {
		rewritten, outputs, err := r.rewriteSource(semiJoin, union, i, ctx)
		if err != nil {
			return Result{}, err
		}
		sources[i] = rewritten
		branchOutputs[i] = outputs
	}

	outputs := semiJoin.OutputSymbols()
	mapping := make(map[*ir.Symbol][]*ir.Symbol, len(outputs))
	for _, o := range outputs {
		inputs := make([]*ir.Symbol, len(sources))
		for i := range sources {
			inputs[i] = branchOutputs[i][o]
		}
		mapping[o] = inputs
	}

	replacement, err := ir.NewUnionNode(ctx.NextNodeID(), sources, outputs, mapping)
	if err != nil {
		return Result{}, r.contractError(ErrCodeInvalidRewrite, node, "rebuilt union is invalid", err)
	}
	return Replace(replacement), nil
}

// rewriteSource builds the semi join of branch i. It returns the new node
// and, for every output of semiJoin, the branch symbol that produces it.
func (r *PushSemiJoinThroughUnion) rewriteSource(semiJoin *ir.SemiJoinNode, union *ir.UnionNode, i int, ctx Context) (ir.PlanNode, map[*ir.Symbol]*ir.Symbol, error) {
	inputMap := union.SourceSymbolMap(i)
	mappings := maps.Clone(inputMap)
	outputs := make(map[*ir.Symbol]*ir.Symbol)
	indicator := semiJoin.SemiJoinOutput()

	for _, o := range semiJoin.OutputSymbols() {
		if in, ok := inputMap[o]; ok {
			outputs[o] = in
			continue
		}
		if o != indicator {
			return nil, nil, r.contractError(ErrCodeUnmappedOutput, semiJoin,
				fmt.Sprintf("output %s is neither a union output nor the match indicator", o), nil)
		}
		fresh := ctx.NewSymbol(o)
		mappings[o] = fresh
		outputs[o] = fresh
	}

	// A projected-away indicator is still computed once per branch.
	if _, ok := mappings[indicator]; !ok {
		mappings[indicator] = ctx.NewSymbol(indicator)
	}

	rewritten, err := NewSymbolMapper(mappings).Map(semiJoin, union.Sources()[i], ctx.NextNodeID())
	if err != nil {
		var ce *ContractError
		if errors.As(err, &ce) && ce.Rule == "" {
			ce.Rule = r.Name()
		}
		return nil, nil, err
	}
	return rewritten, outputs, nil
}

func (r *PushSemiJoinThroughUnion) contractError(code ContractErrorCode, node ir.PlanNode, msg string, err error) *ContractError {
	ce := &ContractError{
		Code:    code,
		Rule:    r.Name(),
		Message: msg,
		Err:     err,
	}
	if node != nil {
		ce.NodeID = node.ID()
	}
	return ce
}
