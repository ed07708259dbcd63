// Command preauth runs the pre-authorized debit engine: the HTTP API,
// scenario runs, policy validation and record inspection.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/preauth/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
