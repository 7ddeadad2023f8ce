package ir

import (
	"bytes"
	"fmt"
)

// EncodePlan converts a plan into its serialized object form. The encoding is
// the input of PlanFingerprint and of the trace store, so field names are
// part of the on-disk format.
//
//	{"id": 3, "kind": "semi_join", "outputs": [{"name": "a", "type": "bigint"}],
//	 "source": {...}, "filtering_source": {...},
//	 "source_join_symbol": {...}, "filtering_join_symbol": {...},
//	 "semi_join_output": {...}}
//
// Union mapping is a list ordered like the outputs:
//
//	"mapping": [{"output": {...}, "inputs": [{...}, {...}]}]
func EncodePlan(node PlanNode) Object {
	obj := Object{
		"id":      Int(node.ID()),
		"kind":    Str(node.Kind().String()),
		"outputs": encodeSymbols(node.OutputSymbols()),
	}

	switch n := node.(type) {
	case *TableScanNode:
		obj["table"] = Str(n.table)
	case *ValuesNode:
		obj["rows"] = Int(n.rows)
	case *SemiJoinNode:
		obj["source"] = EncodePlan(n.p.Source)
		obj["filtering_source"] = EncodePlan(n.p.FilteringSource)
		obj["source_join_symbol"] = encodeSymbol(n.p.SourceJoinSymbol)
		obj["filtering_join_symbol"] = encodeSymbol(n.p.FilteringSourceJoinSymbol)
		obj["semi_join_output"] = encodeSymbol(n.p.SemiJoinOutput)
		if n.p.SourceHashSymbol != nil {
			obj["source_hash_symbol"] = encodeSymbol(n.p.SourceHashSymbol)
		}
		if n.p.FilteringSourceHashSymbol != nil {
			obj["filtering_hash_symbol"] = encodeSymbol(n.p.FilteringSourceHashSymbol)
		}
	case *UnionNode:
		sources := make(List, len(n.sources))
		for i, s := range n.sources {
			sources[i] = EncodePlan(s)
		}
		obj["sources"] = sources

		mapping := make(List, len(n.outputs))
		for i, o := range n.outputs {
			mapping[i] = Object{
				"output": encodeSymbol(o),
				"inputs": encodeSymbols(n.mapping[o]),
			}
		}
		obj["mapping"] = mapping
	}
	return obj
}

func encodeSymbol(s *Symbol) Object {
	return Object{"name": Str(s.name), "type": Str(string(s.typ))}
}

func encodeSymbols(list []*Symbol) List {
	out := make(List, len(list))
	for i, s := range list {
		out[i] = encodeSymbol(s)
	}
	return out
}

// DecodePlan rebuilds a plan from its EncodePlan form. Symbol names are
// resolved through syms so that equal names become the same *Symbol.
//
// Nodes that appear more than once with the same id must have identical
// encodings; they decode to one shared node. A reused id with a different
// encoding is an error.
func DecodePlan(obj Object, syms SymbolTable) (PlanNode, error) {
	d := &decoder{
		syms:    syms,
		byID:    make(map[PlanNodeID]PlanNode),
		encoded: make(map[PlanNodeID][]byte),
	}
	return d.node(obj, "$")
}

type decoder struct {
	syms    SymbolTable
	byID    map[PlanNodeID]PlanNode
	encoded map[PlanNodeID][]byte
}

func (d *decoder) node(obj Object, path string) (PlanNode, error) {
	id, err := getInt(obj, "id", path)
	if err != nil {
		return nil, err
	}
	nodeID := PlanNodeID(id)

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if prev, ok := d.byID[nodeID]; ok {
		if !bytes.Equal(d.encoded[nodeID], canonical) {
			return nil, fmt.Errorf("%w: %s: node id %d reused by a different node", ErrInvalidPlan, path, id)
		}
		return prev, nil
	}

	kindName, err := getString(obj, "kind", path)
	if err != nil {
		return nil, err
	}
	kind, ok := ParseNodeKind(kindName)
	if !ok {
		return nil, fmt.Errorf("%s.kind: unknown node kind %q", path, kindName)
	}
	outputs, err := d.symbolList(obj, "outputs", path)
	if err != nil {
		return nil, err
	}

	var node PlanNode
	switch kind {
	case KindTableScan:
		table, err := getString(obj, "table", path)
		if err != nil {
			return nil, err
		}
		node, err = NewTableScanNode(nodeID, table, outputs)
		if err != nil {
			return nil, err
		}
	case KindValues:
		rows, err := getInt(obj, "rows", path)
		if err != nil {
			return nil, err
		}
		node, err = NewValuesNode(nodeID, outputs, int(rows))
		if err != nil {
			return nil, err
		}
	case KindSemiJoin:
		node, err = d.semiJoin(obj, path, nodeID, outputs)
		if err != nil {
			return nil, err
		}
	case KindUnion:
		node, err = d.union(obj, path, nodeID, outputs)
		if err != nil {
			return nil, err
		}
	}

	d.byID[nodeID] = node
	d.encoded[nodeID] = canonical
	return node, nil
}

func (d *decoder) semiJoin(obj Object, path string, id PlanNodeID, outputs []*Symbol) (PlanNode, error) {
	p := SemiJoinParams{ID: id, Outputs: outputs}

	var err error
	if p.Source, err = d.child(obj, "source", path); err != nil {
		return nil, err
	}
	if p.FilteringSource, err = d.child(obj, "filtering_source", path); err != nil {
		return nil, err
	}
	if p.SourceJoinSymbol, err = d.symbolField(obj, "source_join_symbol", path, true); err != nil {
		return nil, err
	}
	if p.FilteringSourceJoinSymbol, err = d.symbolField(obj, "filtering_join_symbol", path, true); err != nil {
		return nil, err
	}
	if p.SemiJoinOutput, err = d.symbolField(obj, "semi_join_output", path, true); err != nil {
		return nil, err
	}
	if p.SourceHashSymbol, err = d.symbolField(obj, "source_hash_symbol", path, false); err != nil {
		return nil, err
	}
	if p.FilteringSourceHashSymbol, err = d.symbolField(obj, "filtering_hash_symbol", path, false); err != nil {
		return nil, err
	}
	sj, err := NewSemiJoinNode(p)
	if err != nil {
		return nil, err
	}
	return sj, nil
}

func (d *decoder) union(obj Object, path string, id PlanNodeID, outputs []*Symbol) (PlanNode, error) {
	rawSources, err := getList(obj, "sources", path)
	if err != nil {
		return nil, err
	}
	sources := make([]PlanNode, len(rawSources))
	for i, raw := range rawSources {
		elemPath := fmt.Sprintf("%s.sources[%d]", path, i)
		child, ok := raw.(Object)
		if !ok {
			return nil, fmt.Errorf("%s: expected object, got %T", elemPath, raw)
		}
		if sources[i], err = d.node(child, elemPath); err != nil {
			return nil, err
		}
	}

	rawMapping, err := getList(obj, "mapping", path)
	if err != nil {
		return nil, err
	}
	mapping := make(map[*Symbol][]*Symbol, len(rawMapping))
	for i, raw := range rawMapping {
		elemPath := fmt.Sprintf("%s.mapping[%d]", path, i)
		entry, ok := raw.(Object)
		if !ok {
			return nil, fmt.Errorf("%s: expected object, got %T", elemPath, raw)
		}
		out, err := d.symbolField(entry, "output", elemPath, true)
		if err != nil {
			return nil, err
		}
		inputs, err := d.symbolList(entry, "inputs", elemPath)
		if err != nil {
			return nil, err
		}
		if _, dup := mapping[out]; dup {
			return nil, fmt.Errorf("%w: %s: output %s mapped twice", ErrInvalidPlan, elemPath, out)
		}
		mapping[out] = inputs
	}
	u, err := NewUnionNode(id, sources, outputs, mapping)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *decoder) child(obj Object, key, path string) (PlanNode, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("%s.%s: missing", path, key)
	}
	child, ok := raw.(Object)
	if !ok {
		return nil, fmt.Errorf("%s.%s: expected object, got %T", path, key, raw)
	}
	return d.node(child, path+"."+key)
}

func (d *decoder) symbolField(obj Object, key, path string, required bool) (*Symbol, error) {
	raw, ok := obj[key]
	if !ok {
		if required {
			return nil, fmt.Errorf("%s.%s: missing", path, key)
		}
		return nil, nil
	}
	return d.symbol(raw, path+"."+key)
}

func (d *decoder) symbolList(obj Object, key, path string) ([]*Symbol, error) {
	raw, err := getList(obj, key, path)
	if err != nil {
		return nil, err
	}
	out := make([]*Symbol, len(raw))
	for i, elem := range raw {
		if out[i], err = d.symbol(elem, fmt.Sprintf("%s.%s[%d]", path, key, i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) symbol(raw Value, path string) (*Symbol, error) {
	obj, ok := raw.(Object)
	if !ok {
		return nil, fmt.Errorf("%s: expected symbol object, got %T", path, raw)
	}
	name, err := getString(obj, "name", path)
	if err != nil {
		return nil, err
	}
	typ, err := getString(obj, "type", path)
	if err != nil {
		return nil, err
	}
	if !VarType(typ).Valid() {
		return nil, fmt.Errorf("%s.type: unknown type %q", path, typ)
	}
	s, err := d.syms.Declare(name, VarType(typ))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func getString(obj Object, key, path string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("%s.%s: missing", path, key)
	}
	s, ok := raw.(Str)
	if !ok {
		return "", fmt.Errorf("%s.%s: expected string, got %T", path, key, raw)
	}
	return string(s), nil
}

func getInt(obj Object, key, path string) (int64, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("%s.%s: missing", path, key)
	}
	n, ok := raw.(Int)
	if !ok {
		return 0, fmt.Errorf("%s.%s: expected integer, got %T", path, key, raw)
	}
	return int64(n), nil
}

func getList(obj Object, key, path string) (List, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("%s.%s: missing", path, key)
	}
	l, ok := raw.(List)
	if !ok {
		return nil, fmt.Errorf("%s.%s: expected list, got %T", path, key, raw)
	}
	return l, nil
}
