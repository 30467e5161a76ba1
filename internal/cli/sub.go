package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/wire"
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Manage sub-actions",
	Long: `Sub-actions are the units of work under a corrective action.
Changing a sub-action's status re-derives its corrective action.`,
}

var subCreateCmd = &cobra.Command{
	Use:   "create [action-id] [title]",
	Short: "Add a sub-action to a corrective action",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateEntityID(args[0], "action"); err != nil {
			return err
		}
		req := primary.CreateSubActionRequest{ActionID: args[0], Title: args[1]}
		req.Description, _ = cmd.Flags().GetString("description")
		req.AssigneeID, _ = cmd.Flags().GetString("assignee")
		if dueFlag, _ := cmd.Flags().GetString("due"); dueFlag != "" {
			due, err := parseDue(dueFlag, time.Now())
			if err != nil {
				return err
			}
			req.DueDate = &due
		}

		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		return adapter.CreateSub(cmd.Context(), req)
	},
}

var subStatusCmd = &cobra.Command{
	Use:   "status [sub-action-id] [status]",
	Short: "Change a sub-action's status",
	Long: `Change a sub-action's status (in_progress, completed, cancelled).

Use --dry-run to see the resulting corrective action status without writing.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateEntityID(args[0], "sub-action"); err != nil {
			return err
		}
		req := primary.StatusChangeRequest{ItemID: args[0], Status: args[1]}
		req.Reason, _ = cmd.Flags().GetString("reason")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		if dryRun {
			return adapter.PreviewSubStatus(cmd.Context(), req)
		}
		return adapter.SetSubStatus(cmd.Context(), req)
	},
}

var subPreviewCmd = &cobra.Command{
	Use:   "preview [sub-action-id] [status]",
	Short: "Show what a sub-action status change would do, without writing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateEntityID(args[0], "sub-action"); err != nil {
			return err
		}
		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		return adapter.PreviewSubStatus(cmd.Context(), primary.StatusChangeRequest{ItemID: args[0], Status: args[1]})
	},
}

// SubCmd returns the sub command
func SubCmd() *cobra.Command {
	subCreateCmd.Flags().StringP("description", "d", "", "Description")
	subCreateCmd.Flags().StringP("assignee", "a", "", "Assignee")
	subCreateCmd.Flags().StringP("due", "D", "", "Due date (YYYY-MM-DD, 'YYYY-MM-DD HH:MM' or RFC 3339)")

	subStatusCmd.Flags().StringP("reason", "r", "", "Optional note recorded with the change")
	subStatusCmd.Flags().Bool("dry-run", false, "Preview the change without writing")

	subCmd.AddCommand(subCreateCmd)
	subCmd.AddCommand(subStatusCmd)
	subCmd.AddCommand(subPreviewCmd)

	return subCmd
}
