package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planopt/internal/pattern"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/testutil"
)

func TestRuleIndex_GroupsByRootOperand(t *testing.T) {
	push := rule.NewPushSemiJoinThroughUnion()
	anyRule := &stubRule{name: "any", pattern: pattern.Typed(pattern.OperandAny)}
	scan := &stubRule{name: "scan", pattern: pattern.Typed(pattern.OperandTableScan)}

	idx := newRuleIndex([]rule.Rule{anyRule, push, scan})
	f := testutil.NewSemiJoinOverUnion(t, 1)

	assert.Equal(t, []rule.Rule{anyRule, push}, idx.candidates(f.SemiJoin))
	assert.Equal(t, []rule.Rule{anyRule}, idx.candidates(f.Union))
	assert.Equal(t, []rule.Rule{anyRule, scan}, idx.candidates(f.Filter))
}

func TestMatchRule(t *testing.T) {
	push := rule.NewPushSemiJoinThroughUnion()
	f := testutil.NewSemiJoinOverUnion(t, 2)

	_, ok := matchRule(push, f.SemiJoin, session.Default())
	assert.False(t, ok, "disabled by default")

	sess := enabledSession()
	captures, ok := matchRule(push, f.SemiJoin, sess)
	require.True(t, ok)
	assert.Equal(t, 1, captures.Len())

	_, ok = matchRule(push, f.Union, sess)
	assert.False(t, ok)
}
