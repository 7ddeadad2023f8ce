package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts the replacements made during one run and enforces a
// maximum.
//
// Rules are required to make progress, and the rule set in this repository
// never re-matches its own output, so a healthy run stops long before the
// limit. The quota is what turns a misbehaving rule into an error instead of
// a hang.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates an enforcer allowing maxSteps replacements.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one replacement and fails once the count passes the limit.
func (q *QuotaEnforcer) Check(runToken string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			RunToken: runToken,
			Steps:    q.current,
			Limit:    q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a run exceeds its replacement quota.
// The run stops; the partially rewritten plan is discarded.
type StepsExceededError struct {
	RunToken string
	Steps    int
	Limit    int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded max rule applications: %d steps > %d limit",
		e.RunToken, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
