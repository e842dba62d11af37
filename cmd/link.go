package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/velocityfibre/polelink/internal/model"
	"github.com/velocityfibre/polelink/internal/reconcile"
)

var (
	linkPermissionID string
	linkAssignmentID string
	linkOperator     string
	linkNotes        string
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manually link a permission to an assignment",
	Long: `Creates a permission-assignment link on an operator's authority,
bypassing the confidence threshold. The pairing is still analyzed; any
agent or location mismatch is recorded on the link for later review.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "link: open store")
		}
		defer st.Close()

		engine := reconcile.NewEngine(st, cfg.Reconcile)
		link, err := engine.ManualLink(ctx, model.ManualLinkRequest{
			PermissionID: linkPermissionID,
			AssignmentID: linkAssignmentID,
			LinkedBy:     linkOperator,
			Notes:        linkNotes,
		})
		if err != nil {
			return eris.Wrap(err, "link")
		}

		fmt.Printf("linked %s -> %s (pole %s, link id %s)\n",
			link.PermissionID, link.AssignmentID, link.PoleNumber, link.ID)
		if link.Conflicts != nil {
			fmt.Println("warning: mismatches recorded on this link; review advised")
		}
		return nil
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkPermissionID, "permission", "", "permission record id (required)")
	linkCmd.Flags().StringVar(&linkAssignmentID, "assignment", "", "assignment record id (required)")
	linkCmd.Flags().StringVar(&linkOperator, "by", "", "operator identity (required)")
	linkCmd.Flags().StringVar(&linkNotes, "notes", "", "optional audit note")
	_ = linkCmd.MarkFlagRequired("permission")
	_ = linkCmd.MarkFlagRequired("assignment")
	_ = linkCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(linkCmd)
}
