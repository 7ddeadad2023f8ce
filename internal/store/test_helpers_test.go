package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/planopt/internal/ir"
)

// createTestStore creates a store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestOptimization(runToken string) Optimization {
	return Optimization{
		RunToken:           runToken,
		PlanName:           "q1",
		InputPlan:          ir.Object{"id": ir.Int(1), "kind": ir.Str("values")},
		InputFingerprint:   "in-fp",
		Session:            ir.Object{"validate_plan": ir.Bool(false)},
		SessionFingerprint: "session-fp",
		EngineVersion:      ir.EngineVersion,
		IRVersion:          ir.IRVersion,
	}
}

func createTestFiring(runToken string, seq int64) RuleFiring {
	return RuleFiring{
		RunToken:          runToken,
		Seq:               seq,
		Rule:              "push_semi_join_through_union",
		NodeID:            5,
		ReplacementID:     ir.PlanNodeID(5 + seq),
		BeforeFingerprint: "before",
		AfterFingerprint:  "after",
	}
}
