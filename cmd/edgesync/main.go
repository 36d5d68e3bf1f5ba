// Command edgesync queues local changes and syncs them to a remote
// authority.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/edgesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
