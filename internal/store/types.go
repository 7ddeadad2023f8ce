package store

import (
	"github.com/roach88/planopt/internal/ir"
)

// Optimization is the input side of a run.
type Optimization struct {
	RunToken           string
	PlanName           string
	InputPlan          ir.Object
	InputFingerprint   string
	Session            ir.Object
	SessionFingerprint string
	EngineVersion      string
	IRVersion          string
}

// Result statuses.
const (
	StatusFixpoint = "fixpoint"
	StatusFailed   = "failed"
)

// OptimizationResult is the output side of a run.
type OptimizationResult struct {
	RunToken          string
	Status            string
	OutputPlan        ir.Object
	OutputFingerprint string
	Steps             int
	Error             string
}

// RuleFiring records one replacement made by a rule.
type RuleFiring struct {
	ID                int64
	RunToken          string
	Seq               int64
	Rule              string
	NodeID            ir.PlanNodeID
	ReplacementID     ir.PlanNodeID
	BeforeFingerprint string
	AfterFingerprint  string
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	RunToken          string `json:"run_token"`
	PlanName          string `json:"plan_name,omitempty"`
	Status            string `json:"status,omitempty"` // empty while the run has no result
	Firings           int    `json:"firings"`
	OutputFingerprint string `json:"output_fingerprint,omitempty"`
}
