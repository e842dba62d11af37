package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/velocityfibre/polelink/internal/config"
	"github.com/velocityfibre/polelink/internal/reconcile"
)

var runOptionsPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one reconciliation pass",
	Long: `Fetches approved, unlinked pole permissions and the recent assignment
working set, scores each permission against every candidate assignment,
auto-links unambiguous high-confidence matches, records conflicts for the
rest, detects duplicate pole numbers, and persists a run report.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "run"))

		rc := cfg.Reconcile
		if runOptionsPath != "" {
			var err error
			rc, err = config.LoadRunOptions(runOptionsPath, rc)
			if err != nil {
				return err
			}
			log.Info("run options overlaid", zap.String("path", runOptionsPath))
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "run: open store")
		}
		defer st.Close()

		engine := reconcile.NewEngine(st, rc)
		report, err := engine.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		fmt.Printf("processed=%d links=%d conflicts=%d duplicates=%d skipped=%d in %dms\n",
			report.PermissionsProcessed, report.NewLinks, report.Conflicts,
			report.Duplicates, report.Details.SkippedInvalid, report.ProcessingTimeMs)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOptionsPath, "options", "", "YAML file overlaying reconciliation tunables for this run")
	rootCmd.AddCommand(runCmd)
}
