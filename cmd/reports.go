package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reportsLimit int

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List recent reconciliation reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "reports: open store")
		}
		defer st.Close()

		reports, err := st.ListRecentReports(ctx, reportsLimit)
		if err != nil {
			return eris.Wrap(err, "reports")
		}

		if len(reports) == 0 {
			fmt.Println("no reports recorded")
			return nil
		}
		for _, r := range reports {
			fmt.Printf("%s  %s  %-8s processed=%d links=%d conflicts=%d duplicates=%d %dms\n",
				r.ID, r.ProcessedAt.Format("2006-01-02 15:04"), r.Status,
				r.PermissionsProcessed, r.NewLinks, r.Conflicts, r.Duplicates,
				r.ProcessingTimeMs)
		}
		return nil
	},
}

func init() {
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 10, "maximum reports to list")
	rootCmd.AddCommand(reportsCmd)
}
