// Command phobosd is the Phobos LRS device engine daemon: it loads a
// device table from the DSS, brings up one worker per device behind a
// shared dispatcher, and runs until asked to drain and exit.
//
// Grounded on the teacher's cmd/zenith (a minimal cobra root plus a
// single serve subcommand, signal-driven graceful shutdown).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "phobosd",
		Short: "Phobos LRS device engine",
		Long:  "Run the Phobos local resource scheduler device engine: device workers, sync batching, and the dispatcher/retry plane",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
