package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/planopt/internal/compiler"
	"github.com/roach88/planopt/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledPlan is one plan of a compiled program.
type CompiledPlan struct {
	Name        string    `json:"name"`
	Nodes       int       `json:"nodes"`
	Symbols     int       `json:"symbols"`
	Fingerprint string    `json:"fingerprint"`
	Plan        ir.Object `json:"plan"`
}

// CompilationResult holds the compiled plans.
type CompilationResult struct {
	Plans []CompiledPlan `json:"plans"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <plans>",
		Short: "Compile CUE plans to canonical IR",
		Long: `Compile a CUE plan program to canonical plan IR.

<plans> is a directory holding one CUE package or a single .cue file.
Each plan is printed with its node count and fingerprint; --output writes
the canonical JSON of every plan.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadPlans(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, path)

	result := &CompilationResult{Plans: make([]CompiledPlan, 0, len(loaded.Plans))}
	for _, p := range loaded.Plans {
		formatter.VerboseLog("Compiled plan: %s", p.Name)
		fp, err := ir.PlanFingerprint(p.Root)
		if err != nil {
			return outputCommandError(formatter, ErrCodeGeneric, fmt.Sprintf("fingerprint %s: %v", p.Name, err))
		}
		result.Plans = append(result.Plans, CompiledPlan{
			Name:        p.Name,
			Nodes:       ir.CountNodes(p.Root),
			Symbols:     len(ir.CollectSymbols(p.Root)),
			Fingerprint: fp,
			Plan:        ir.EncodePlan(p.Root),
		})
	}

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, loaded.Plans, result, opts.Output)
}

func outputCompileSuccess(formatter *OutputFormatter, plans []compiler.NamedPlan, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d plan(s)\n\n", len(result.Plans))
	for i, p := range result.Plans {
		fmt.Fprintf(w, "  %s: %d node(s), %d symbol(s), %s\n", p.Name, p.Nodes, p.Symbols, shortFingerprint(p.Fingerprint))
		if formatter.Verbose {
			fmt.Fprintln(w)
			fmt.Fprint(w, indent(ir.Format(plans[i].Root), "    "))
			fmt.Fprintln(w)
		}
	}

	if outputFile != "" {
		fmt.Fprintf(w, "\nWrote canonical IR to %s\n", outputFile)
	}
	return nil
}

// outputLoadError reports a LoadPlans failure as a command error.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		if formatter.Format != "json" && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		return outputCommandError(formatter, loadErr.Code, loadErr.Message)
	}
	return outputCommandError(formatter, ErrCodeGeneric, err.Error())
}

// outputCommandError prints one error and returns exit code 2.
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// writeIRToFile writes the plans as one canonical JSON document.
func writeIRToFile(result *CompilationResult, filename string) error {
	plans := make(ir.List, len(result.Plans))
	for i, p := range result.Plans {
		plans[i] = ir.Object{
			"name":        ir.Str(p.Name),
			"fingerprint": ir.Str(p.Fingerprint),
			"plan":        p.Plan,
		}
	}
	data, err := ir.MarshalCanonical(ir.Object{
		"ir_version": ir.Str(ir.IRVersion),
		"plans":      plans,
	})
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// shortFingerprint trims a fingerprint for text output.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// indent prefixes every non-empty line of s.
func indent(s, prefix string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(s, "\n") {
		if line != "" && line != "\n" {
			b.WriteString(prefix)
		}
		b.WriteString(line)
	}
	return b.String()
}
