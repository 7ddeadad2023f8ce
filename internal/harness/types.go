package harness

import (
	"github.com/roach88/planopt/internal/ir"
)

// FiringEvent is one rule firing as it appears in a scenario trace.
// Fingerprints are left out so the trace reads as a plan history.
type FiringEvent struct {
	Seq           int64         `json:"seq"`
	Rule          string        `json:"rule"`
	NodeID        ir.PlanNodeID `json:"node_id"`
	ReplacementID ir.PlanNodeID `json:"replacement_id"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// RunToken is the token the optimization ran under.
	RunToken string `json:"run_token"`

	// Firings are the stored rule firings, in seq order.
	Firings []FiringEvent `json:"firings"`

	// Errors contains assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// RunError is the optimization error, if the run failed.
	RunError string `json:"run_error,omitempty"`

	// Input and Plan are the plan before and after optimization. Plan is
	// nil if the run failed.
	Input ir.PlanNode `json:"-"`
	Plan  ir.PlanNode `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Firings: []FiringEvent{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
