package ir

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is wrapped by every constructor error reporting a broken
// node invariant.
var ErrInvalidPlan = errors.New("invalid plan")

// PlanNodeID identifies a plan node. IDs are handed out by a
// PlanNodeIDAllocator and are unique within one optimization.
type PlanNodeID int64

func (id PlanNodeID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

// VarType is the logical type of a symbol.
type VarType string

const (
	TypeBigint  VarType = "bigint"
	TypeInteger VarType = "integer"
	TypeDouble  VarType = "double"
	TypeVarchar VarType = "varchar"
	TypeBoolean VarType = "boolean"
	TypeDate    VarType = "date"
)

// ValidTypes lists the accepted logical types.
var ValidTypes = map[VarType]bool{
	TypeBigint:  true,
	TypeInteger: true,
	TypeDouble:  true,
	TypeVarchar: true,
	TypeBoolean: true,
	TypeDate:    true,
}

// Valid reports whether t is a known logical type.
func (t VarType) Valid() bool {
	return ValidTypes[t]
}

// Symbol is a column identity flowing through the plan. Two symbols are the
// same column iff they are the same pointer; the name is for display and is
// unique only within the allocator that produced it.
type Symbol struct {
	name string
	typ  VarType
}

// NewSymbol creates a symbol outside any allocator. Plans built this way
// must not be handed to a rule whose allocator does not know the names.
func NewSymbol(name string, typ VarType) *Symbol {
	return &Symbol{name: name, typ: typ}
}

// Name returns the display name.
func (s *Symbol) Name() string { return s.name }

// Type returns the logical type.
func (s *Symbol) Type() VarType { return s.typ }

func (s *Symbol) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.name
}

// SymbolTable resolves symbol names while decoding a serialized plan.
// Declare returns the interned symbol for name, creating it on first use,
// and fails if name is already bound to a different type.
type SymbolTable interface {
	Declare(name string, typ VarType) (*Symbol, error)
}

func containsSymbol(list []*Symbol, s *Symbol) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func duplicateSymbol(list []*Symbol) *Symbol {
	seen := make(map[*Symbol]bool, len(list))
	for _, s := range list {
		if seen[s] {
			return s
		}
		seen[s] = true
	}
	return nil
}

func formatSymbols(list []*Symbol) string {
	out := "["
	for i, s := range list {
		if i > 0 {
			out += ", "
		}
		out += s.name + ":" + string(s.typ)
	}
	return out + "]"
}
