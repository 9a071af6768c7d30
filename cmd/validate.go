// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildd-org/buildd/internal/config"
	"github.com/buildd-org/buildd/internal/pathauth"
	"github.com/buildd-org/buildd/internal/planloader"
)

// NewValidateCmd returns the command that load-validates a plan document
// without executing anything.
func NewValidateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Load-validate a plan document (no execution)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read plan: %w", err)
			}
			plan, err := planloader.Parse(doc)
			if err != nil {
				return err
			}
			auth := pathauth.New(prefixesOrNil(cfg.AllowedPrefixes), prefixesOrNil(cfg.DeniedSegments))
			vErr := planloader.Validate(plan, auth, cfg.TrustedRequester)

			if asJSON(cmd.Flags()) {
				out := map[string]any{
					"plan_id":   plan.PlanID,
					"plan_hash": plan.Hash(),
					"valid":     vErr == nil,
				}
				var invalid *planloader.PlanInvalidError
				if errors.As(vErr, &invalid) {
					out["violations"] = invalid.Violations
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
				if vErr != nil {
					return fmt.Errorf("plan invalid")
				}
				return nil
			}

			if vErr != nil {
				var invalid *planloader.PlanInvalidError
				if errors.As(vErr, &invalid) {
					fmt.Printf("Plan %s: INVALID (%d violation(s))\n", plan.PlanID, len(invalid.Violations))
					for _, v := range invalid.Violations {
						fmt.Printf("  - %s\n", v)
					}
					return fmt.Errorf("plan invalid")
				}
				return vErr
			}
			fmt.Printf("Plan %s: OK (hash %s, %d step(s))\n", plan.PlanID, plan.Hash(), len(plan.Steps))
			return nil
		},
	}
	addOutputFlags(c.Flags())
	return c
}
