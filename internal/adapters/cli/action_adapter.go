// Package cli provides thin CLI adapters that translate between CLI concerns
// and application services. Adapters handle output formatting and error
// hints, but delegate business logic to services.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/example/capa/internal/core/status"
	"github.com/example/capa/internal/core/transition"
	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/ports/secondary"
)

const dateLayout = "2006-01-02 15:04"

// ActionAdapter translates CLI operations to ActionService calls.
type ActionAdapter struct {
	service primary.ActionService
	out     io.Writer
}

// NewActionAdapter creates a new ActionAdapter with the given service.
func NewActionAdapter(service primary.ActionService, out io.Writer) *ActionAdapter {
	return &ActionAdapter{
		service: service,
		out:     out,
	}
}

// Create opens a corrective action.
func (a *ActionAdapter) Create(ctx context.Context, req primary.CreateActionRequest) error {
	action, err := a.service.CreateAction(ctx, req)
	if err != nil {
		return Explain(err)
	}

	fmt.Fprintf(a.out, "✓ Created corrective action %s: %s\n", action.ID, action.Title)
	fmt.Fprintf(a.out, "  Due: %s%s\n", action.DueDate.Format(dateLayout), overdueMarker(action.Overdue))
	return nil
}

// CreateSub opens a sub-action.
func (a *ActionAdapter) CreateSub(ctx context.Context, req primary.CreateSubActionRequest) error {
	res, err := a.service.CreateSubAction(ctx, req)
	if err != nil {
		return Explain(err)
	}

	fmt.Fprintf(a.out, "✓ Created sub-action %s under %s: %s\n", res.SubAction.ID, res.Action.ID, res.SubAction.Title)
	fmt.Fprintf(a.out, "  %s is now %s\n", res.Action.ID, StatusLabel(res.Action.Status))
	return nil
}

// List lists corrective actions.
func (a *ActionAdapter) List(ctx context.Context, filters primary.ActionFilters) error {
	actions, err := a.service.ListActions(ctx, filters)
	if err != nil {
		return Explain(err)
	}

	if len(actions) == 0 {
		fmt.Fprintln(a.out, "No corrective actions found")
		return nil
	}

	fmt.Fprintf(a.out, "\n%-9s %-22s %-17s %s\n", "ID", "STATUS", "DUE", "TITLE")
	fmt.Fprintln(a.out, "────────────────────────────────────────────────────────────────")
	for _, act := range actions {
		fmt.Fprintf(a.out, "%-9s %-22s %-17s %s%s\n",
			act.ID, StatusLabel(act.Status), act.DueDate.Format(dateLayout), act.Title, overdueMarker(act.Overdue))
	}
	fmt.Fprintln(a.out)
	return nil
}

// Show displays a corrective action with its sub-actions.
func (a *ActionAdapter) Show(ctx context.Context, actionID string) error {
	act, err := a.service.GetAction(ctx, actionID)
	if err != nil {
		return Explain(err)
	}

	fmt.Fprintf(a.out, "\nCorrective action: %s\n", act.ID)
	fmt.Fprintf(a.out, "Title:    %s\n", act.Title)
	fmt.Fprintf(a.out, "Status:   %s%s\n", StatusLabel(act.Status), overdueMarker(act.Overdue))
	fmt.Fprintf(a.out, "Due:      %s\n", act.DueDate.Format(dateLayout))
	if act.IncidentRef != "" {
		fmt.Fprintf(a.out, "Incident: %s\n", act.IncidentRef)
	}
	if act.OwnerID != "" {
		fmt.Fprintf(a.out, "Owner:    %s\n", act.OwnerID)
	}
	if act.Priority != "" {
		fmt.Fprintf(a.out, "Priority: %s\n", act.Priority)
	}
	if len(act.ClassificationTags) > 0 {
		fmt.Fprintf(a.out, "Tags:     %s\n", strings.Join(act.ClassificationTags, ", "))
	}
	if act.Description != "" {
		fmt.Fprintf(a.out, "Description: %s\n", act.Description)
	}
	if act.CompletedAt != nil {
		fmt.Fprintf(a.out, "Completed: %s\n", act.CompletedAt.Format(dateLayout))
	}
	if act.AbortedAt != nil {
		fmt.Fprintf(a.out, "Aborted:  %s by %s (%s)\n", act.AbortedAt.Format(dateLayout), act.AbortedBy, act.AbortReason)
	}
	fmt.Fprintf(a.out, "Next:     %s\n", nextList(act.AllowedNext))

	if len(act.SubActions) > 0 {
		c := act.Counts
		fmt.Fprintf(a.out, "\nSub-actions (%d not started, %d in progress, %d completed, %d cancelled):\n",
			c.NotStarted, c.InProgress, c.Completed, c.Cancelled)
		for _, sub := range act.SubActions {
			due := ""
			if sub.DueDate != nil {
				due = " due " + sub.DueDate.Format(dateLayout)
			}
			fmt.Fprintf(a.out, "  %s %s: %s [%s]%s%s\n",
				statusIcon(sub.Status), sub.ID, sub.Title, StatusLabel(sub.Status), due, overdueMarker(sub.Overdue))
		}
	}
	fmt.Fprintln(a.out)
	return nil
}

// SetSubStatus applies a sub-action status change.
func (a *ActionAdapter) SetSubStatus(ctx context.Context, req primary.StatusChangeRequest) error {
	res, err := a.service.ApplySubActionStatusChange(ctx, req)
	if err != nil {
		return Explain(err)
	}

	fmt.Fprintf(a.out, "✓ Sub-action %s is now %s%s\n", res.SubAction.ID, StatusLabel(res.SubAction.Status), overdueMarker(res.SubAction.Overdue))
	fmt.Fprintf(a.out, "  %s: %s%s\n", res.Action.ID, StatusLabel(res.Action.Status), overdueMarker(res.Action.Overdue))
	return nil
}

// PreviewSubStatus shows what a sub-action status change would do.
func (a *ActionAdapter) PreviewSubStatus(ctx context.Context, req primary.StatusChangeRequest) error {
	before, err := a.service.GetSubAction(ctx, req.ItemID)
	if err != nil {
		return Explain(err)
	}
	parentBefore, err := a.service.GetAction(ctx, before.ActionID)
	if err != nil {
		return Explain(err)
	}

	res, err := a.service.PreviewSubActionStatusChange(ctx, req)
	if err != nil {
		return Explain(err)
	}

	fmt.Fprintf(a.out, "Preview (nothing written):\n")
	fmt.Fprintf(a.out, "  %s: %s → %s\n", res.SubAction.ID, StatusLabel(before.Status), StatusLabel(res.SubAction.Status))
	if parentBefore.Status == res.Action.Status && parentBefore.Overdue == res.Action.Overdue {
		fmt.Fprintf(a.out, "  %s: unchanged (%s)\n", res.Action.ID, StatusLabel(res.Action.Status))
	} else {
		fmt.Fprintf(a.out, "  %s: %s%s → %s%s\n", res.Action.ID,
			StatusLabel(parentBefore.Status), overdueMarker(parentBefore.Overdue),
			StatusLabel(res.Action.Status), overdueMarker(res.Action.Overdue))
	}
	return nil
}

// SetStatus writes a corrective action status directly.
func (a *ActionAdapter) SetStatus(ctx context.Context, req primary.StatusChangeRequest) error {
	act, err := a.service.ApplyActionStatusChange(ctx, req)
	if err != nil {
		return Explain(err)
	}

	fmt.Fprintf(a.out, "✓ Corrective action %s is now %s\n", act.ID, StatusLabel(act.Status))
	if act.AbortReason != "" {
		fmt.Fprintf(a.out, "  Reason: %s\n", act.AbortReason)
	}
	return nil
}

// History prints the audit trail of an item.
func (a *ActionAdapter) History(ctx context.Context, itemID string) error {
	events, err := a.service.ListEvents(ctx, itemID)
	if err != nil {
		return Explain(err)
	}

	if len(events) == 0 {
		fmt.Fprintf(a.out, "No transitions recorded for %s\n", itemID)
		return nil
	}

	for _, e := range events {
		who := e.Actor
		if who == "" {
			who = e.Source
		}
		line := fmt.Sprintf("%s  %-8s %s → %s", e.OccurredAt.Format(dateLayout), who, e.OldStatus, e.NewStatus)
		if e.OldOverdue != e.NewOverdue {
			line += fmt.Sprintf(" (overdue %t → %t)", e.OldOverdue, e.NewOverdue)
		}
		if e.Reason != "" {
			line += "  " + e.Reason
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// SweepAdapter translates CLI sweep requests to ReconcileService calls.
type SweepAdapter struct {
	service primary.ReconcileService
	out     io.Writer
}

// NewSweepAdapter creates a new SweepAdapter.
func NewSweepAdapter(service primary.ReconcileService, out io.Writer) *SweepAdapter {
	return &SweepAdapter{service: service, out: out}
}

// Run performs one sweep at now and prints the report.
func (a *SweepAdapter) Run(ctx context.Context, now time.Time) error {
	report, err := a.service.Sweep(ctx, now)
	if report != nil {
		fmt.Fprintf(a.out, "Sweep %s: %s\n", report.RunID, report.Outcome)
		fmt.Fprintf(a.out, "  pages=%d scanned=%d changed=%d events=%d redelivered=%d failed=%d duration=%s\n",
			report.Pages, report.Scanned, report.Changed, report.EventsEmitted, report.EventsRedelivered, len(report.Failed), report.Duration())
		for _, f := range report.Failed {
			fmt.Fprintf(a.out, "  %s %s: %v\n", color.New(color.FgRed).Sprint("✗"), f.ActionID, f.Err)
		}
	}
	if err != nil {
		return Explain(err)
	}
	return nil
}

// Explain adds an actionable hint to known error kinds.
func Explain(err error) error {
	var hint string
	switch {
	case errors.Is(err, transition.ErrAggregatedStatusIsReadOnly):
		hint = "change its sub-actions with `capa sub status`, or abort it with --reason"
	case errors.Is(err, transition.ErrAbortReasonRequired):
		hint = "pass --reason \"...\" to record why the action is aborted"
	case errors.Is(err, transition.ErrIllegalTransition):
		hint = "run `capa action show <id>` to see the statuses allowed next"
	case errors.Is(err, transition.ErrParentTerminal):
		hint = "open a new corrective action for follow-up work"
	case errors.Is(err, status.ErrInvalidStatusValue):
		hint = "corrective actions take not_started, in_progress, completed, aborted; sub-actions take not_started, in_progress, completed, cancelled"
	case errors.Is(err, secondary.ErrNotFound):
		hint = "check the ID with `capa action list`"
	case errors.Is(err, secondary.ErrStaleState):
		hint = "another change landed first; check `capa action show <id>` and retry"
	case errors.Is(err, secondary.ErrPersistenceFailure):
		hint = "check the database path (--config / CAPA_DB_PATH) and retry"
	default:
		return err
	}
	return fmt.Errorf("%w\nHint: %s", err, hint)
}

// StatusLabel renders a status in its display color.
func StatusLabel(s string) string {
	switch s {
	case string(status.ParentCompleted):
		return color.New(color.FgHiGreen).Sprint(s)
	case string(status.ParentInProgress):
		return color.New(color.FgYellow).Sprint(s)
	case string(status.ParentAborted), string(status.ChildCancelled):
		return color.New(color.FgHiBlack).Sprint(s)
	default:
		return color.New(color.FgWhite).Sprint(s)
	}
}

func overdueMarker(overdue bool) string {
	if !overdue {
		return ""
	}
	return color.New(color.FgRed).Sprint(" [overdue]")
}

func statusIcon(s string) string {
	switch s {
	case "completed":
		return "✅"
	case "in_progress":
		return "🔧"
	case "cancelled", "aborted":
		return "🚫"
	default:
		return "📦"
	}
}

func nextList(next []string) string {
	if len(next) == 0 {
		return "(none)"
	}
	return strings.Join(next, ", ")
}
