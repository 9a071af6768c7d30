// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/buildd-org/buildd/internal/paths"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "bldd",
	Short: "Governed build execution engine",
	Long: `bldd loads structured change plans, authorizes them against a fixed
set of writable paths, and executes them dry-run-first under an independent
validator gate.`,
}

func Execute() {
	if dataDir := os.Getenv("BUILDD_DATA_DIR"); dataDir != "" {
		paths.SetDataDirOverride(dataDir)
	}

	rootCmd.AddCommand(NewValidateCmd())
	rootCmd.AddCommand(NewExecuteCmd())
	rootCmd.AddCommand(NewKillSwitchCmd())
	rootCmd.AddCommand(NewAuditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addOutputFlags registers the shared output flags on the given flag set.
func addOutputFlags(fs *pflag.FlagSet) {
	fs.Bool("json", false, "Emit machine-readable JSON output")
}

func asJSON(fs *pflag.FlagSet) bool {
	v, _ := fs.GetBool("json")
	return v
}
