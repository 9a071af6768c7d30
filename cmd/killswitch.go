// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildd-org/buildd/internal/config"
)

// NewKillSwitchCmd returns the command group for the system-wide safety
// latch. State is persisted in the data directory so it spans invocations.
func NewKillSwitchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "killswitch",
		Short: "Inspect or operate the system-wide kill switch",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show kill switch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ks, err := newKillSwitch(cfg)
			if err != nil {
				return err
			}
			active, reason := ks.State()
			if asJSON(cmd.Flags()) {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"active": active,
					"reason": reason,
				})
			}
			if active {
				fmt.Printf("kill switch ACTIVE: %s\n", reason)
			} else {
				fmt.Println("kill switch inactive")
			}
			return nil
		},
	}
	addOutputFlags(status.Flags())

	trigger := &cobra.Command{
		Use:   "trigger <reason>",
		Short: "Trip the kill switch, blocking all future approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ks, err := newKillSwitch(cfg)
			if err != nil {
				return err
			}
			ks.Trigger(args[0])
			fmt.Println("kill switch triggered")
			return nil
		},
	}

	var code string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset the kill switch with an authorization code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ks, err := newKillSwitch(cfg)
			if err != nil {
				return err
			}
			if err := ks.Reset(code); err != nil {
				return err
			}
			fmt.Println("kill switch reset")
			return nil
		},
	}
	reset.Flags().StringVar(&code, "code", "", "Authorization code")
	_ = reset.MarkFlagRequired("code")

	c.AddCommand(status, trigger, reset)
	return c
}
