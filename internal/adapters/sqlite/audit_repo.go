package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/capa/internal/ports/secondary"
)

// AuditRepository implements secondary.EventLog over the transition_events
// table. Rows are appended by the item repositories inside their write
// transactions; this repository reads them back and tracks delivery.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new SQLite event log.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const eventSelectCols = "id, item_id, item_kind, old_status, new_status, old_overdue, new_overdue, actor, reason, source, occurred_at"

// ListByItem returns the events recorded for an item, oldest first.
func (r *AuditRepository) ListByItem(ctx context.Context, itemID string) ([]*secondary.TransitionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+eventSelectCols+" FROM transition_events WHERE item_id = ? ORDER BY occurred_at ASC, rowid ASC",
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transition events: %w", err)
	}
	return scanEvents(rows)
}

// ListPending returns up to limit undelivered events, oldest first.
func (r *AuditRepository) ListPending(ctx context.Context, limit int) ([]*secondary.TransitionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+eventSelectCols+" FROM transition_events WHERE delivered_at IS NULL ORDER BY occurred_at ASC, rowid ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transition events: %w", err)
	}
	return scanEvents(rows)
}

// MarkDelivered stamps events as accepted by the sinks. Unknown or already
// delivered IDs are ignored.
func (r *AuditRepository) MarkDelivered(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	_, err := r.db.ExecContext(ctx,
		"UPDATE transition_events SET delivered_at = CURRENT_TIMESTAMP WHERE delivered_at IS NULL AND id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transition events delivered: %w", err)
	}

	return nil
}

func scanEvents(rows *sql.Rows) ([]*secondary.TransitionEvent, error) {
	defer rows.Close()

	var events []*secondary.TransitionEvent
	for rows.Next() {
		var (
			actor  sql.NullString
			reason sql.NullString
		)
		event := &secondary.TransitionEvent{}
		if err := rows.Scan(
			&event.ID, &event.ItemID, &event.ItemKind, &event.OldStatus, &event.NewStatus,
			&event.OldOverdue, &event.NewOverdue, &actor, &reason, &event.Source, &event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition event: %w", err)
		}
		event.Actor = actor.String
		event.Reason = reason.String
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transition events: %w", err)
	}

	return events, nil
}

// appendEvent records event inside tx. A nil event is a no-op.
func appendEvent(ctx context.Context, tx *sql.Tx, event *secondary.TransitionEvent) error {
	if event == nil {
		return nil
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO transition_events
			(id, item_id, item_kind, old_status, new_status, old_overdue, new_overdue, actor, reason, source, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ItemID, event.ItemKind, event.OldStatus, event.NewStatus,
		event.OldOverdue, event.NewOverdue, nullString(event.Actor), nullString(event.Reason),
		event.Source, event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition event: %w", err)
	}

	return nil
}

// inTx runs fn inside a transaction, committing only if fn succeeds.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
