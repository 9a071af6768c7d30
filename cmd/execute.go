// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewExecuteCmd returns the command that runs a plan through the full gated
// lifecycle. Dry run is the default; live mode is an explicit opt-in.
func NewExecuteCmd() *cobra.Command {
	var live bool
	c := &cobra.Command{
		Use:   "execute <plan-file>",
		Short: "Execute a plan (dry run unless --live)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := newEngine(ctx, asJSON(cmd.Flags()))
			if err != nil {
				return err
			}
			defer eng.Close()

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			if _, err := eng.orch.LoadPlan(doc); err != nil {
				return err
			}
			if live {
				if err := eng.orch.SetDryRun(false); err != nil {
					return err
				}
			}

			res, err := eng.orch.Execute(ctx)
			if err != nil {
				return err
			}

			if asJSON(cmd.Flags()) {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				status := eng.orch.GetStatus()
				fmt.Printf("Plan %s finished in state %s\n", status.PlanID, status.State)
				fmt.Printf("  dry_run=%v steps_executed=%d errors=%d warnings=%d\n",
					res.DryRun, res.StepsExecuted, len(res.Errors), len(res.Warnings))
				for _, e := range res.Errors {
					fmt.Printf("  error: %s\n", e)
				}
				if res.Reason != "" {
					fmt.Printf("  gate: %s (kill_switch=%v)\n", res.Reason, res.KillSwitchTriggered)
				}
			}

			if !res.Success {
				return fmt.Errorf("execution unsuccessful")
			}
			return nil
		},
	}
	c.Flags().BoolVar(&live, "live", false, "Apply changes instead of staging them")
	addOutputFlags(c.Flags())
	return c
}
