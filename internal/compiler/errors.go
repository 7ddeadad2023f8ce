package compiler

import (
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError reports a problem in a plan program. Field is the dotted
// path of the offending value ("plans.q1.semi_join.source"); Pos is its
// position in the CUE source when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
}

// formatCUEError turns the first error CUE reports into a positioned
// CompileError. Errors without a position are returned unchanged.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	pos := cueerrors.Positions(errs[0])
	if len(pos) == 0 {
		return err
	}
	return &CompileError{Field: "cue", Message: errs[0].Error(), Pos: pos[0]}
}
