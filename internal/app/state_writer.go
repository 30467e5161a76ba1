package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/capa/internal/core/aggregation"
	"github.com/example/capa/internal/core/status"
	"github.com/example/capa/internal/ports/secondary"
)

// change describes who or what caused a write.
type change struct {
	actor  string
	reason string
	source string
	at     time.Time
}

// stateWriter persists derived state and records one transition event per
// realized change in the same write. Recorded events are then handed to the
// sink; any that the sink rejects stay pending for redeliver. Both the
// mutation path and the sweep write through it.
type stateWriter struct {
	workItems secondary.WorkItemRepository
	subItems  secondary.SubItemRepository
	events    secondary.EventLog
	sink      secondary.AuditEmitter
	log       zerolog.Logger
}

// writeChild persists a sub-action status change. The write only lands while
// the stored status is still from.Status. It reports whether the event
// reached the sink.
func (w *stateWriter) writeChild(ctx context.Context, rec *secondary.SubItemRecord, from, to aggregation.ChildState, c change) (bool, error) {
	event := newEvent(rec.ID, status.KindSubItem, string(from.Status), string(to.Status), from.Overdue, to.Overdue, c)
	err := w.subItems.SaveStatus(ctx, secondary.StatusUpdate{
		ID:             rec.ID,
		Status:         string(to.Status),
		Overdue:        to.Overdue,
		CompletedAt:    to.CompletedAt,
		UpdatedAt:      c.at,
		ExpectedStatus: string(from.Status),
		Event:          event,
	})
	if err != nil {
		return false, storageError("save sub-action "+rec.ID, err)
	}

	rec.Status = string(to.Status)
	rec.Overdue = to.Overdue
	rec.CompletedAt = to.CompletedAt
	rec.UpdatedAt = c.at

	return w.deliver(ctx, event), nil
}

// writeOverdue persists a re-derived overdue flag of a sub-action. Status and
// completion time are left alone, and nothing is written once the status has
// moved away from from.Status.
func (w *stateWriter) writeOverdue(ctx context.Context, rec *secondary.SubItemRecord, from, to aggregation.ChildState, c change) (bool, error) {
	event := newEvent(rec.ID, status.KindSubItem, string(from.Status), string(from.Status), from.Overdue, to.Overdue, c)
	err := w.subItems.SaveOverdue(ctx, secondary.OverdueUpdate{
		ID:             rec.ID,
		ExpectedStatus: string(from.Status),
		Overdue:        to.Overdue,
		UpdatedAt:      c.at,
		Event:          event,
	})
	if err != nil {
		return false, storageError("save sub-action "+rec.ID, err)
	}

	rec.Overdue = to.Overdue
	rec.UpdatedAt = c.at

	return w.deliver(ctx, event), nil
}

// writeParent persists a corrective action whose derived state differs from
// the stored state. Sweep writes are conditional on the status they were
// derived from. It reports whether the event reached the sink.
func (w *stateWriter) writeParent(ctx context.Context, rec *secondary.WorkItemRecord, from, to aggregation.ParentState, c change) (bool, error) {
	event := newEvent(rec.ID, status.KindWorkItem, string(from.Status), string(to.Status), from.Overdue, to.Overdue, c)
	update := secondary.StatusUpdate{
		ID:          rec.ID,
		Status:      string(to.Status),
		Overdue:     to.Overdue,
		CompletedAt: to.CompletedAt,
		UpdatedAt:   c.at,
		Event:       event,
	}
	if c.source == secondary.SourceSweep {
		update.ExpectedStatus = string(from.Status)
	}
	if err := w.workItems.SaveStatus(ctx, update); err != nil {
		return false, storageError("save corrective action "+rec.ID, err)
	}

	rec.Status = string(to.Status)
	rec.Overdue = to.Overdue
	rec.CompletedAt = to.CompletedAt
	rec.UpdatedAt = c.at

	return w.deliver(ctx, event), nil
}

// writeAbort aborts a corrective action and records the abort event.
func (w *stateWriter) writeAbort(ctx context.Context, rec *secondary.WorkItemRecord, from aggregation.ParentState, c change) error {
	event := newEvent(rec.ID, status.KindWorkItem, string(from.Status), string(status.ParentAborted), from.Overdue, false, c)
	err := w.workItems.SaveAbortMetadata(ctx, secondary.AbortRecord{
		ID:        rec.ID,
		Actor:     c.actor,
		Reason:    c.reason,
		AbortedAt: c.at,
		Event:     event,
	})
	if err != nil {
		return storageError("abort corrective action "+rec.ID, err)
	}

	abortedAt := c.at
	rec.Status = string(status.ParentAborted)
	rec.Overdue = false
	rec.AbortedBy = c.actor
	rec.AbortedAt = &abortedAt
	rec.AbortReason = c.reason
	rec.UpdatedAt = c.at

	w.deliver(ctx, event)
	return nil
}

// newEvent builds the event for a write, or nil when neither status nor
// overdue flag changes.
func newEvent(id string, kind status.Kind, oldStatus, newStatus string, oldOverdue, newOverdue bool, c change) *secondary.TransitionEvent {
	if oldStatus == newStatus && oldOverdue == newOverdue {
		return nil
	}
	return &secondary.TransitionEvent{
		ID:         uuid.NewString(),
		ItemID:     id,
		ItemKind:   string(kind),
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		OldOverdue: oldOverdue,
		NewOverdue: newOverdue,
		Actor:      c.actor,
		Reason:     c.reason,
		Source:     c.source,
		OccurredAt: c.at,
	}
}

// deliver hands a recorded event to the sink and marks it delivered. A
// rejected event stays pending; the state write it belongs to stands.
func (w *stateWriter) deliver(ctx context.Context, event *secondary.TransitionEvent) bool {
	if event == nil || w.sink == nil {
		return false
	}
	if err := w.sink.Emit(ctx, *event); err != nil {
		w.log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("item_id", event.ItemID).
			Str("new_status", event.NewStatus).
			Msg("transition event not delivered; left pending")
		return false
	}
	w.markDelivered(ctx, event.ID)
	return true
}

func (w *stateWriter) markDelivered(ctx context.Context, id string) {
	if w.events == nil {
		return
	}
	if err := w.events.MarkDelivered(ctx, id); err != nil {
		// The event is delivered again by the next redeliver.
		w.log.Warn().Err(err).Str("event_id", id).Msg("failed to mark transition event delivered")
	}
}

// redeliver hands pending events to the sink, oldest first, in batches of
// batch. It stops at the first rejection so the sink sees events in order.
func (w *stateWriter) redeliver(ctx context.Context, batch int) (int, error) {
	if w.events == nil || w.sink == nil {
		return 0, nil
	}

	delivered := 0
	for {
		pending, err := w.events.ListPending(ctx, batch)
		if err != nil {
			return delivered, storageError("list pending transition events", err)
		}

		for _, event := range pending {
			if err := w.sink.Emit(ctx, *event); err != nil {
				return delivered, fmt.Errorf("deliver transition event %s: %w", event.ID, err)
			}
			if err := w.events.MarkDelivered(ctx, event.ID); err != nil {
				return delivered, storageError("mark transition event "+event.ID+" delivered", err)
			}
			delivered++
		}

		if len(pending) < batch {
			return delivered, nil
		}
	}
}

// storageError wraps a repository error as a persistence failure. Not-found
// and stale-state errors pass through unchanged so callers can tell them
// apart.
func storageError(op string, err error) error {
	if errors.Is(err, secondary.ErrNotFound) || errors.Is(err, secondary.ErrStaleState) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", secondary.ErrPersistenceFailure, op, err)
}

func parentStateOf(rec *secondary.WorkItemRecord) (aggregation.ParentState, error) {
	s, err := status.ParseParent(rec.Status)
	if err != nil {
		return aggregation.ParentState{}, fmt.Errorf("corrective action %s: %w", rec.ID, err)
	}
	due := rec.DueDate
	return aggregation.ParentState{
		Status:      s,
		DueDate:     &due,
		CompletedAt: rec.CompletedAt,
		Overdue:     rec.Overdue,
	}, nil
}

func childStateOf(rec *secondary.SubItemRecord) (aggregation.ChildState, error) {
	s, err := status.ParseChild(rec.Status)
	if err != nil {
		return aggregation.ChildState{}, fmt.Errorf("sub-action %s: %w", rec.ID, err)
	}
	return aggregation.ChildState{
		Status:      s,
		DueDate:     rec.DueDate,
		CompletedAt: rec.CompletedAt,
		Overdue:     rec.Overdue,
	}, nil
}

func childStatesOf(recs []*secondary.SubItemRecord) ([]aggregation.ChildState, error) {
	states := make([]aggregation.ChildState, len(recs))
	for i, rec := range recs {
		st, err := childStateOf(rec)
		if err != nil {
			return nil, err
		}
		states[i] = st
	}
	return states, nil
}
