// Command planopt compiles, optimizes and traces query plans.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/planopt/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
