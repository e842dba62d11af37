package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/velocityfibre/polelink/internal/reconcile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show linking status summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "status: open store")
		}
		defer st.Close()

		s, err := reconcile.Summary(ctx, st)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		fmt.Printf("permissions: %d total, %d linked, %d conflict, %d duplicate, %d pending\n",
			s.TotalPermissions, s.LinkedCount, s.ConflictCount, s.DuplicateCount, s.PendingCount)
		fmt.Printf("linking rate: %.1f%%  conflict rate: %.1f%%\n", s.LinkingRate, s.ConflictRate)
		if s.LastReconciledAt != nil {
			fmt.Printf("last run: %s  next run (est): %s\n",
				s.LastReconciledAt.Format("2006-01-02 15:04:05"),
				s.NextRunAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("no reconciliation runs recorded yet")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
