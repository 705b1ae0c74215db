// Command phobos-admin is a one-shot CLI for device/medium lock and
// adm-status administration against the DSS directly, with no running
// daemon involved — grounded on the teacher's cmd/zenith cobra-root
// shape, collapsed here to direct store calls rather than HTTP routes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "phobos-admin",
		Short: "Administer Phobos LRS devices and media",
		Long:  "One-shot device/medium lock, unlock, and adm-status administration against the DSS",
	}

	var dsn string
	rootCmd.PersistentFlags().StringVar(&dsn, "postgres-dsn", os.Getenv("PHOBOS_POSTGRES_DSN"), "Postgres DSN for the DSS")

	rootCmd.AddCommand(listDevicesCmd(&dsn))
	rootCmd.AddCommand(setAdmStatusCmd(&dsn))
	rootCmd.AddCommand(releaseCmd(&dsn))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
