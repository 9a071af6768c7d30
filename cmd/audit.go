// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildd-org/buildd/internal/coredb"
)

// NewAuditCmd returns the command that exports persisted audit events for a
// plan as NDJSON, one journal payload per line.
func NewAuditCmd() *cobra.Command {
	var afterSeq int64
	c := &cobra.Command{
		Use:   "audit <plan-id>",
		Short: "Export the persisted audit journal for a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := coredb.Open(ctx, coredb.Options{})
			if err != nil {
				return err
			}
			defer db.Close()

			journal := coredb.NewJournal(db, 0)
			planID := args[0]

			earliest, latest, err := journal.Bounds(ctx, planID)
			if err != nil {
				return err
			}
			if earliest == 0 {
				return fmt.Errorf("no audit events recorded for plan %q", planID)
			}

			n := 0
			err = journal.ForEach(ctx, planID, afterSeq, func(e coredb.JournalEntry) error {
				if _, wErr := fmt.Fprintf(os.Stdout, "%s\n", e.Payload); wErr != nil {
					return wErr
				}
				n++
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "exported %d event(s), seq %d..%d\n", n, earliest, latest)
			return nil
		},
	}
	c.Flags().Int64Var(&afterSeq, "after", 0, "Export only events with sequence greater than this")
	return c
}
