package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var conflictsLimit int

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List pending conflicts awaiting manual review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "conflicts: open store")
		}
		defer st.Close()

		conflicts, err := st.ListPendingConflicts(ctx, conflictsLimit)
		if err != nil {
			return eris.Wrap(err, "conflicts")
		}

		if len(conflicts) == 0 {
			fmt.Println("no pending conflicts")
			return nil
		}
		for _, c := range conflicts {
			fmt.Printf("%s  %-20s permission=%s confidence=%.2f created=%s\n",
				c.ID, c.Type, c.PermissionID, c.Details.Confidence,
				c.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	conflictsCmd.Flags().IntVar(&conflictsLimit, "limit", 100, "maximum conflicts to list")
	rootCmd.AddCommand(conflictsCmd)
}
