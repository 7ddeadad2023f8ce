package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/ir"
)

// NamedPlan is one entry of the plans struct of a program.
type NamedPlan struct {
	Name string
	Root ir.PlanNode
}

// CompileProgram parses a plan program into plans, in declaration order.
//
// The program declares its symbols once and then any number of plans:
//
//	symbols: {a: "bigint", match: "boolean"}
//	plans: q1: semi_join: {...}
//
// Every declared symbol is bound in syms, so symbols allocated later by rules
// never reuse a name the program mentions. Node ids are drawn from ids with
// children numbered before their parent.
func CompileProgram(v cue.Value, ids *alloc.PlanNodeIDAllocator, syms *alloc.SymbolAllocator) ([]NamedPlan, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	if err := compileSymbols(v, syms); err != nil {
		return nil, err
	}

	plansVal := v.LookupPath(cue.ParsePath("plans"))
	if !plansVal.Exists() {
		return nil, &CompileError{
			Field:   "plans",
			Message: "at least one plan is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := plansVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	c := &planCompiler{ids: ids, syms: syms}
	var plans []NamedPlan
	for iter.Next() {
		name := iter.Label()
		root, err := c.node(iter.Value(), "plans."+name)
		if err != nil {
			return nil, err
		}
		plans = append(plans, NamedPlan{Name: name, Root: root})
	}

	if len(plans) == 0 {
		return nil, &CompileError{
			Field:   "plans",
			Message: "at least one plan is required",
			Pos:     plansVal.Pos(),
		}
	}
	return plans, nil
}

// CompilePlan compiles a single node value. Symbols it references must
// already be declared in syms.
func CompilePlan(v cue.Value, ids *alloc.PlanNodeIDAllocator, syms *alloc.SymbolAllocator) (ir.PlanNode, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	c := &planCompiler{ids: ids, syms: syms}
	return c.node(v, "plan")
}

// FindPlan returns the plan called name.
func FindPlan(plans []NamedPlan, name string) (NamedPlan, bool) {
	for _, p := range plans {
		if p.Name == name {
			return p, true
		}
	}
	return NamedPlan{}, false
}

func compileSymbols(v cue.Value, syms *alloc.SymbolAllocator) error {
	symVal := v.LookupPath(cue.ParsePath("symbols"))
	if !symVal.Exists() {
		return &CompileError{
			Field:   "symbols",
			Message: "symbols block is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := symVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		typStr, err := iter.Value().String()
		if err != nil {
			return formatCUEError(err)
		}
		typ := ir.VarType(typStr)
		if !typ.Valid() {
			return &CompileError{
				Field:   "symbols." + name,
				Message: fmt.Sprintf("unknown type %q", typStr),
				Pos:     iter.Value().Pos(),
			}
		}
		if _, err := syms.Declare(name, typ); err != nil {
			return &CompileError{
				Field:   "symbols." + name,
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

type planCompiler struct {
	ids  *alloc.PlanNodeIDAllocator
	syms *alloc.SymbolAllocator
}

// node compiles a value of the form {<kind>: {...}}.
func (c *planCompiler) node(v cue.Value, field string) (ir.PlanNode, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var (
		kindLabel string
		body      cue.Value
		count     int
	)
	for iter.Next() {
		count++
		kindLabel = iter.Label()
		body = iter.Value()
	}
	if count != 1 {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected exactly one node kind, found %d", count),
			Pos:     v.Pos(),
		}
	}

	kind, ok := ir.ParseNodeKind(kindLabel)
	if !ok {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unknown node kind %q", kindLabel),
			Pos:     v.Pos(),
		}
	}

	field = field + "." + kindLabel
	switch kind {
	case ir.KindTableScan:
		return c.tableScan(body, field)
	case ir.KindValues:
		return c.values(body, field)
	case ir.KindSemiJoin:
		return c.semiJoin(body, field)
	case ir.KindUnion:
		return c.union(body, field)
	default:
		return nil, &CompileError{Field: field, Message: "unsupported node kind", Pos: v.Pos()}
	}
}

func (c *planCompiler) tableScan(v cue.Value, field string) (ir.PlanNode, error) {
	table, err := c.requiredString(v, "table", field)
	if err != nil {
		return nil, err
	}
	outputs, err := c.symbolList(v, "outputs", field)
	if err != nil {
		return nil, err
	}
	n, err := ir.NewTableScanNode(c.ids.NextID(), table, outputs)
	if err != nil {
		return nil, c.nodeError(v, field, err)
	}
	return n, nil
}

func (c *planCompiler) values(v cue.Value, field string) (ir.PlanNode, error) {
	outputs, err := c.symbolList(v, "outputs", field)
	if err != nil {
		return nil, err
	}
	rows := int64(1)
	if rowsVal := v.LookupPath(cue.ParsePath("rows")); rowsVal.Exists() {
		rows, err = rowsVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	n, err := ir.NewValuesNode(c.ids.NextID(), outputs, int(rows))
	if err != nil {
		return nil, c.nodeError(v, field, err)
	}
	return n, nil
}

func (c *planCompiler) semiJoin(v cue.Value, field string) (ir.PlanNode, error) {
	source, err := c.child(v, "source", field)
	if err != nil {
		return nil, err
	}
	filtering, err := c.child(v, "filtering_source", field)
	if err != nil {
		return nil, err
	}

	p := ir.SemiJoinParams{
		Source:          source,
		FilteringSource: filtering,
	}
	if p.SourceJoinSymbol, err = c.symbolField(v, "source_join_symbol", field, true); err != nil {
		return nil, err
	}
	if p.FilteringSourceJoinSymbol, err = c.symbolField(v, "filtering_join_symbol", field, true); err != nil {
		return nil, err
	}
	if p.SemiJoinOutput, err = c.symbolField(v, "semi_join_output", field, true); err != nil {
		return nil, err
	}
	if p.SourceHashSymbol, err = c.symbolField(v, "source_hash_symbol", field, false); err != nil {
		return nil, err
	}
	if p.FilteringSourceHashSymbol, err = c.symbolField(v, "filtering_hash_symbol", field, false); err != nil {
		return nil, err
	}
	if v.LookupPath(cue.ParsePath("outputs")).Exists() {
		if p.Outputs, err = c.symbolList(v, "outputs", field); err != nil {
			return nil, err
		}
	}

	p.ID = c.ids.NextID()
	n, err := ir.NewSemiJoinNode(p)
	if err != nil {
		return nil, c.nodeError(v, field, err)
	}
	return n, nil
}

func (c *planCompiler) union(v cue.Value, field string) (ir.PlanNode, error) {
	sourcesVal := v.LookupPath(cue.ParsePath("sources"))
	if !sourcesVal.Exists() {
		return nil, &CompileError{
			Field:   field + ".sources",
			Message: "sources is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := sourcesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var sources []ir.PlanNode
	for i := 0; iter.Next(); i++ {
		src, err := c.node(iter.Value(), fmt.Sprintf("%s.sources[%d]", field, i))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	outputs, err := c.symbolList(v, "outputs", field)
	if err != nil {
		return nil, err
	}

	mappingVal := v.LookupPath(cue.ParsePath("mapping"))
	if !mappingVal.Exists() {
		return nil, &CompileError{
			Field:   field + ".mapping",
			Message: "mapping is required",
			Pos:     v.Pos(),
		}
	}
	mapIter, err := mappingVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	mapping := make(map[*ir.Symbol][]*ir.Symbol)
	for mapIter.Next() {
		name := mapIter.Label()
		out, err := c.lookup(name, field+".mapping", mapIter.Value())
		if err != nil {
			return nil, err
		}
		inputs, err := c.symbolList(mappingVal, name, field+".mapping")
		if err != nil {
			return nil, err
		}
		mapping[out] = inputs
	}

	n, err := ir.NewUnionNode(c.ids.NextID(), sources, outputs, mapping)
	if err != nil {
		return nil, c.nodeError(v, field, err)
	}
	return n, nil
}

func (c *planCompiler) child(v cue.Value, key, field string) (ir.PlanNode, error) {
	childVal := v.LookupPath(cue.ParsePath(key))
	if !childVal.Exists() {
		return nil, &CompileError{
			Field:   field + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	return c.node(childVal, field+"."+key)
}

func (c *planCompiler) requiredString(v cue.Value, key, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", &CompileError{
			Field:   field + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func (c *planCompiler) symbolField(v cue.Value, key, field string, required bool) (*ir.Symbol, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		if !required {
			return nil, nil
		}
		return nil, &CompileError{
			Field:   field + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	name, err := val.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return c.lookup(name, field+"."+key, val)
}

func (c *planCompiler) symbolList(v cue.Value, key, field string) ([]*ir.Symbol, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return nil, &CompileError{
			Field:   field + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []*ir.Symbol
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s, err := c.lookup(name, field+"."+key, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *planCompiler) lookup(name, field string, at cue.Value) (*ir.Symbol, error) {
	s, ok := c.syms.Lookup(name)
	if !ok {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("undeclared symbol %q", name),
			Pos:     at.Pos(),
		}
	}
	return s, nil
}

func (c *planCompiler) nodeError(v cue.Value, field string, err error) error {
	return &CompileError{
		Field:   field,
		Message: err.Error(),
		Pos:     v.Pos(),
	}
}
