package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/planopt/internal/testutil"
)

// redefinedCUE compiles, but both union branches produce a1.
const redefinedCUE = `
package plans

symbols: {a: "bigint", a1: "bigint"}

plans: bad: union: {
	sources: [
		{table_scan: {table: "t1", outputs: ["a1"]}},
		{table_scan: {table: "t2", outputs: ["a1"]}},
	]
	outputs: ["a"]
	mapping: a: ["a1", "a1"]
}
`

// undeclaredCUE refers to a symbol missing from the symbols block.
const undeclaredCUE = `
package plans

symbols: {k: "bigint"}

plans: q: table_scan: {table: "t", outputs: ["x"]}
`

// writePlansDir writes src as the only file of a CUE package directory.
func writePlansDir(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plans.cue"), []byte(src), 0644))
	return dir
}

// scenarioPlansDir holds the two-branch plan under plans.q1.
func scenarioPlansDir(t *testing.T) string {
	t.Helper()
	return writePlansDir(t, "package plans\n"+testutil.ScenarioCUE)
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
