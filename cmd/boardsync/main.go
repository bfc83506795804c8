// Command boardsync runs the board relay and its verification tools.
package main

import (
	"fmt"
	"os"

	"github.com/soa-bra/glass-project-flow-sub021/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
