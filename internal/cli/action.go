package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/wire"
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Manage corrective actions",
	Long: `Create, list, and move corrective actions through their lifecycle.

Examples:
  capa action create "Rotate leaked credentials" --due 2026-03-01 --incident INC-42
  capa action list --overdue
  capa action abort CA-0001 --reason "superseded by CA-0004"`,
}

var actionCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Open a new corrective action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dueFlag, _ := cmd.Flags().GetString("due")
		due, err := parseDue(dueFlag, time.Now())
		if err != nil {
			return err
		}
		description, _ := cmd.Flags().GetString("description")
		incident, _ := cmd.Flags().GetString("incident")
		priority, _ := cmd.Flags().GetString("priority")
		owner, _ := cmd.Flags().GetString("owner")
		tags, _ := cmd.Flags().GetString("tags")

		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		return adapter.Create(cmd.Context(), primary.CreateActionRequest{
			IncidentRef:        incident,
			Title:              args[0],
			Description:        description,
			DueDate:            due,
			Priority:           priority,
			ClassificationTags: splitTags(tags),
			OwnerID:            owner,
		})
	},
}

var actionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List corrective actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := primary.ActionFilters{}
		filters.Status, _ = cmd.Flags().GetString("status")
		filters.OwnerID, _ = cmd.Flags().GetString("owner")
		filters.IncidentRef, _ = cmd.Flags().GetString("incident")
		filters.Limit, _ = cmd.Flags().GetInt("limit")
		if cmd.Flags().Changed("overdue") {
			overdue, _ := cmd.Flags().GetBool("overdue")
			filters.Overdue = &overdue
		}

		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		return adapter.List(cmd.Context(), filters)
	},
}

var actionShowCmd = &cobra.Command{
	Use:   "show [action-id]",
	Short: "Show a corrective action and its sub-actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateEntityID(args[0], "action"); err != nil {
			return err
		}
		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		return adapter.Show(cmd.Context(), args[0])
	},
}

// actionStatusCmd builds start/complete/abort, which differ only in the
// status they request.
func actionStatusCmd(use, status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [action-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateEntityID(args[0], "action"); err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")

			adapter, err := wire.ActionAdapter()
			if err != nil {
				return err
			}
			return adapter.SetStatus(cmd.Context(), primary.StatusChangeRequest{
				ItemID: args[0],
				Status: status,
				Reason: reason,
			})
		},
	}
}

var (
	actionStartCmd    = actionStatusCmd("start", "in_progress", "Start a corrective action that has no sub-actions")
	actionCompleteCmd = actionStatusCmd("complete", "completed", "Complete a corrective action that has no sub-actions")
	actionAbortCmd    = actionStatusCmd("abort", "aborted", "Abort a corrective action (requires --reason)")
)

var actionHistoryCmd = &cobra.Command{
	Use:   "history [item-id]",
	Short: "Show the status history of a corrective action or sub-action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := wire.ActionAdapter()
		if err != nil {
			return err
		}
		return adapter.History(cmd.Context(), args[0])
	},
}

// ActionCmd returns the action command
func ActionCmd() *cobra.Command {
	// Add flags
	actionCreateCmd.Flags().StringP("due", "D", "", "Due date (YYYY-MM-DD, 'YYYY-MM-DD HH:MM' or RFC 3339)")
	actionCreateCmd.Flags().StringP("description", "d", "", "Description")
	actionCreateCmd.Flags().StringP("incident", "i", "", "Incident reference")
	actionCreateCmd.Flags().StringP("priority", "p", "", "Priority")
	actionCreateCmd.Flags().StringP("owner", "o", "", "Owner")
	actionCreateCmd.Flags().StringP("tags", "t", "", "Comma-separated classification tags")
	_ = actionCreateCmd.MarkFlagRequired("due")

	actionListCmd.Flags().StringP("status", "s", "", "Filter by status (not_started, in_progress, completed, aborted)")
	actionListCmd.Flags().StringP("owner", "o", "", "Filter by owner")
	actionListCmd.Flags().StringP("incident", "i", "", "Filter by incident reference")
	actionListCmd.Flags().Bool("overdue", false, "Only overdue (or with =false, only on-time) actions")
	actionListCmd.Flags().IntP("limit", "n", 0, "Maximum rows (0 for all)")

	actionAbortCmd.Flags().StringP("reason", "r", "", "Why the action is being aborted")
	for _, c := range []*cobra.Command{actionStartCmd, actionCompleteCmd} {
		c.Flags().StringP("reason", "r", "", "Optional note recorded with the change")
	}

	// Add subcommands
	actionCmd.AddCommand(actionCreateCmd)
	actionCmd.AddCommand(actionListCmd)
	actionCmd.AddCommand(actionShowCmd)
	actionCmd.AddCommand(actionStartCmd)
	actionCmd.AddCommand(actionCompleteCmd)
	actionCmd.AddCommand(actionAbortCmd)
	actionCmd.AddCommand(actionHistoryCmd)

	return actionCmd
}
