package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/planopt/internal/ir"
)

// Snapshot renders the outcome of a scenario for golden comparison:
// the run token, every firing in seq order, then the optimized plan in
// ir.Format layout (or the run error).
//
//	scenario: push_two_branches
//	run_token: test-run-default
//	firings:
//	  1 push_semi_join_through_union node=5 replacement=8
//	plan:
//	- Union[8] sources=2 => [a:bigint, b:varchar, match:boolean]
//	...
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "run_token: %s\n", result.RunToken)

	if len(result.Firings) == 0 {
		b.WriteString("firings: none\n")
	} else {
		b.WriteString("firings:\n")
		for _, f := range result.Firings {
			fmt.Fprintf(&b, "  %d %s node=%d replacement=%d\n", f.Seq, f.Rule, f.NodeID, f.ReplacementID)
		}
	}

	if result.Plan == nil {
		fmt.Fprintf(&b, "error: %s\n", result.RunError)
		return []byte(b.String())
	}
	b.WriteString("plan:\n")
	b.WriteString(ir.Format(result.Plan))
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot be executed. Test failure (via
// goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
