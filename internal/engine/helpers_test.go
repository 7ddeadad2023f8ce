package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func enabledSession() *session.Session {
	s := session.Default()
	s.PushSemiJoinThroughUnion = true
	return s
}

// stubRule is a rule whose behavior is supplied by the test.
type stubRule struct {
	name    string
	pattern *pattern.Pattern
	enabled bool
	calls   int
	apply   func(node ir.PlanNode, ctx rule.Context) (rule.Result, error)
}

func (r *stubRule) Name() string              { return r.name }
func (r *stubRule) Pattern() *pattern.Pattern { return r.pattern }

func (r *stubRule) IsEnabled(*session.Session) bool {
	return r.enabled
}

func (r *stubRule) Apply(node ir.PlanNode, _ pattern.Captures, ctx rule.Context) (rule.Result, error) {
	r.calls++
	return r.apply(node, ctx)
}

// rescanRule replaces every table scan with an identical scan under a new
// id, so it never reaches a fixpoint.
func rescanRule() *stubRule {
	return &stubRule{
		name:    "rescan",
		pattern: pattern.Typed(pattern.OperandTableScan),
		enabled: true,
		apply: func(node ir.PlanNode, ctx rule.Context) (rule.Result, error) {
			scan := node.(*ir.TableScanNode)
			n, err := ir.NewTableScanNode(ctx.NextNodeID(), scan.Table(), scan.OutputSymbols())
			if err != nil {
				return rule.Unchanged(), err
			}
			return rule.Replace(n), nil
		},
	}
}
