package rule

import (
	"errors"
	"fmt"

	"github.com/roach88/planopt/internal/ir"
)

// ContractError reports a plan that violates an invariant a rule depends on.
// The rule invocation fails rather than produce a plan that would return
// wrong rows.
type ContractError struct {
	// Code identifies the violated contract.
	Code ContractErrorCode

	// Rule is the name of the failing rule.
	Rule string

	// NodeID is the node the rule was applied to.
	NodeID ir.PlanNodeID

	// Message is a human-readable description.
	Message string

	// Err is the underlying constructor error, if any.
	Err error
}

// ContractErrorCode categorizes contract violations.
type ContractErrorCode string

const (
	// ErrCodeUnsupportedNode: the symbol mapper was asked to rebuild a node
	// kind it cannot reconstruct, or Apply received the wrong node kind.
	ErrCodeUnsupportedNode ContractErrorCode = "UNSUPPORTED_NODE"

	// ErrCodeUnmappedOutput: an output symbol is neither a pass-through
	// column nor the match indicator.
	ErrCodeUnmappedOutput ContractErrorCode = "UNMAPPED_OUTPUT"

	// ErrCodeMissingCapture: the captures do not hold the node the pattern
	// binds.
	ErrCodeMissingCapture ContractErrorCode = "MISSING_CAPTURE"

	// ErrCodeInvalidRewrite: a rebuilt node failed its own invariants.
	ErrCodeInvalidRewrite ContractErrorCode = "INVALID_REWRITE"
)

func (e *ContractError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s (rule=%s, node=%d)", e.Code, e.Message, e.Rule, e.NodeID)
	}
	return fmt.Sprintf("%s: %s (node=%d)", e.Code, e.Message, e.NodeID)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// IsContractError reports whether err is or wraps a ContractError.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// ContractErrorCodeOf returns the code of a wrapped ContractError, or "".
func ContractErrorCodeOf(err error) ContractErrorCode {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
