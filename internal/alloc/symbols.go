package alloc

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/planopt/internal/ir"
)

// SymbolAllocator owns the symbol namespace of one optimization. Every name
// it has seen, declared or generated, maps to exactly one *ir.Symbol.
type SymbolAllocator struct {
	symbols *xsync.MapOf[string, *ir.Symbol]
	nextID  atomic.Int64
}

func NewSymbolAllocator() *SymbolAllocator {
	return &SymbolAllocator{
		symbols: xsync.NewMapOf[string, *ir.Symbol](),
	}
}

// Declare returns the symbol registered under name, creating it on first use.
// It fails if name is already bound to a different type.
func (a *SymbolAllocator) Declare(name string, typ ir.VarType) (*ir.Symbol, error) {
	if name == "" {
		return nil, fmt.Errorf("symbol name is required")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("symbol %s: unknown type %q", name, typ)
	}
	s, _ := a.symbols.LoadOrStore(name, ir.NewSymbol(name, typ))
	if s.Type() != typ {
		return nil, fmt.Errorf("symbol %s declared as %s, already bound to %s", name, typ, s.Type())
	}
	return s, nil
}

// Register records symbols created elsewhere so that fresh names never
// collide with them. A name already bound to a different *ir.Symbol is an
// error.
func (a *SymbolAllocator) Register(syms ...*ir.Symbol) error {
	for _, s := range syms {
		if prev, loaded := a.symbols.LoadOrStore(s.Name(), s); loaded && prev != s {
			return fmt.Errorf("symbol name %s is already bound to another symbol", s.Name())
		}
	}
	return nil
}

// NewSymbol allocates a fresh symbol typed like like. The name is derived
// from like's name with any trailing "_<digits>" removed; if that base is
// taken a global counter suffix is appended until a free name is claimed.
//
// For a plan that already holds "match", two calls yield match_1 then
// match_2.
func (a *SymbolAllocator) NewSymbol(like *ir.Symbol) *ir.Symbol {
	return a.NewSymbolNamed(like.Name(), like.Type())
}

// NewSymbolNamed is NewSymbol with an explicit name hint and type.
func (a *SymbolAllocator) NewSymbolNamed(hint string, typ ir.VarType) *ir.Symbol {
	base := nameBase(hint)
	attempt := base
	for {
		candidate := ir.NewSymbol(attempt, typ)
		if _, loaded := a.symbols.LoadOrStore(attempt, candidate); !loaded {
			return candidate
		}
		attempt = base + "_" + strconv.FormatInt(a.nextID.Add(1), 10)
	}
}

// Lookup returns the symbol bound to name.
func (a *SymbolAllocator) Lookup(name string) (*ir.Symbol, bool) {
	return a.symbols.Load(name)
}

// Len returns the number of bound names.
func (a *SymbolAllocator) Len() int {
	return a.symbols.Size()
}

// Symbols returns every bound symbol sorted by name.
func (a *SymbolAllocator) Symbols() []*ir.Symbol {
	out := make([]*ir.Symbol, 0, a.symbols.Size())
	a.symbols.Range(func(_ string, s *ir.Symbol) bool {
		out = append(out, s)
		return true
	})
	slices.SortFunc(out, func(x, y *ir.Symbol) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return out
}

// nameBase strips a trailing "_<digits>" (or a trailing "_") from hint
// unless the underscore is the first character. Case is kept.
func nameBase(hint string) string {
	i := strings.LastIndexByte(hint, '_')
	if i <= 0 {
		return hint
	}
	tail := hint[i+1:]
	if tail == "" {
		return hint[:i]
	}
	if _, err := strconv.ParseUint(tail, 10, 64); err == nil {
		return hint[:i]
	}
	return hint
}
