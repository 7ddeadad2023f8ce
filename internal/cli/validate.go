package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/planopt/internal/compiler"
	"github.com/roach88/planopt/internal/ir"
)

// PlanValidationError is one finding, tagged with the plan it belongs to.
type PlanValidationError struct {
	Plan    string        `json:"plan,omitempty"`
	Code    string        `json:"code"`
	NodeID  ir.PlanNodeID `json:"node_id,omitempty"`
	Field   string        `json:"field,omitempty"`
	Message string        `json:"message"`
	Line    int           `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                  `json:"valid"`
	Plans  int                   `json:"plans"`
	Errors []PlanValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plans>",
		Short: "Check plans for structural problems",
		Long: `Compile a CUE plan program and check every plan: unique node ids,
one producer per symbol, semi join outputs free of filtering symbols,
consistent union mappings and boolean match indicators.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadPlans(path)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) || isPathError(loadErr.Code) {
			return outputLoadError(formatter, err)
		}
		// A program that does not compile is invalid, not a command error.
		return outputValidationErrors(formatter, 0, []PlanValidationError{{
			Code:    loadErr.Code,
			Message: loadErr.Message,
			Line:    lineOf(loadErr),
		}})
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, path)

	errs := validatePlans(loaded.Plans, formatter)
	if len(errs) > 0 {
		return outputValidationErrors(formatter, len(loaded.Plans), errs)
	}
	return outputValidateSuccess(formatter, len(loaded.Plans))
}

// validatePlans runs compiler.ValidatePlan on every plan.
func validatePlans(plans []compiler.NamedPlan, formatter *OutputFormatter) []PlanValidationError {
	var all []PlanValidationError
	for _, p := range plans {
		formatter.VerboseLog("Validating plan: %s", p.Name)
		for _, e := range compiler.ValidatePlan(p.Root) {
			all = append(all, PlanValidationError{
				Plan:    p.Name,
				Code:    e.Code,
				NodeID:  e.NodeID,
				Field:   e.Field,
				Message: e.Message,
			})
		}
	}
	return all
}

func isPathError(code string) bool {
	switch code {
	case ErrCodeNotFound, ErrCodeScanError, ErrCodeNoFiles:
		return true
	}
	return false
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

func outputValidateSuccess(formatter *OutputFormatter, plans int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Plans: plans})
	}

	fmt.Fprintf(formatter.Writer, "✓ All plans valid (%d plan(s))\n", plans)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, plans int, errs []PlanValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		if err := formatter.JSON(CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Plans:  plans,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return failure
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range errs {
		switch {
		case e.Line > 0:
			fmt.Fprintf(w, "line %d\n", e.Line)
		case e.Plan != "":
			fmt.Fprintf(w, "plan %s\n", e.Plan)
		}
		if e.NodeID != 0 {
			fmt.Fprintf(w, "  %s: node %d: %s: %s\n\n", e.Code, e.NodeID, e.Field, e.Message)
		} else {
			fmt.Fprintf(w, "  %s: %s\n\n", e.Code, e.Message)
		}
	}

	return failure
}
