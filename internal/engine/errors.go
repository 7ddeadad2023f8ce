package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/planopt/internal/ir"
)

// RuntimeError is an error detected by the driver itself, as opposed to one
// returned by a rule.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunToken identifies the affected run.
	RunToken string

	// Rule is the rule whose replacement was rejected, if any.
	Rule string

	// NodeID is the node the rule was applied to, if any.
	NodeID ir.PlanNodeID

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates the run exceeded its replacement quota.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeOutputMismatch indicates a replacement whose output symbols
	// differ from the node it replaced.
	ErrCodeOutputMismatch RuntimeErrorCode = "OUTPUT_MISMATCH"

	// ErrCodeInvalidPlan indicates a plan that fails validation.
	ErrCodeInvalidPlan RuntimeErrorCode = "INVALID_PLAN"
)

func (e *RuntimeError) Error() string {
	if e.RunToken != "" && e.Rule != "" {
		return fmt.Sprintf("%s: %s (run=%s, rule=%s, node=%d)", e.Code, e.Message, e.RunToken, e.Rule, e.NodeID)
	}
	if e.RunToken != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Message, e.RunToken)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQuotaExceeded
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsOutputMismatchError returns true if the error is an output mismatch.
func IsOutputMismatchError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeOutputMismatch
}

// IsInvalidPlanError returns true if the error is a plan validation failure.
func IsInvalidPlanError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeInvalidPlan
}

// NewOutputMismatchError reports a replacement that changed the output list.
func NewOutputMismatchError(runToken, rule string, nodeID ir.PlanNodeID, want, got []*ir.Symbol) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeOutputMismatch,
		Message:  "replacement changes the output symbols",
		RunToken: runToken,
		Rule:     rule,
		NodeID:   nodeID,
		Details: map[string]string{
			"want": symbolNames(want),
			"got":  symbolNames(got),
		},
	}
}

// NewInvalidPlanError reports validation failures; problems are the
// rendered validation errors.
func NewInvalidPlanError(runToken, rule string, nodeID ir.PlanNodeID, problems []string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeInvalidPlan,
		Message:  strings.Join(problems, "; "),
		RunToken: runToken,
		Rule:     rule,
		NodeID:   nodeID,
	}
}

func symbolNames(list []*ir.Symbol) string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}
