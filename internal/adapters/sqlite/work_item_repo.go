// Package sqlite contains SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/capa/internal/ports/secondary"
)

// WorkItemRepository implements secondary.WorkItemRepository with SQLite.
type WorkItemRepository struct {
	db *sql.DB
}

// NewWorkItemRepository creates a new SQLite corrective action repository.
func NewWorkItemRepository(db *sql.DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

const workItemSelectCols = "id, incident_ref, title, description, due_date, status, priority, classification_tags, owner_id, overdue, created_at, updated_at, completed_at, aborted_by, aborted_at, abort_reason"

// scanWorkItem scans a corrective action row into a WorkItemRecord.
func scanWorkItem(scanner interface {
	Scan(dest ...any) error
}) (*secondary.WorkItemRecord, error) {
	var (
		incidentRef sql.NullString
		desc        sql.NullString
		priority    sql.NullString
		tags        string
		ownerID     sql.NullString
		completedAt sql.NullTime
		abortedBy   sql.NullString
		abortedAt   sql.NullTime
		abortReason sql.NullString
	)

	record := &secondary.WorkItemRecord{}
	err := scanner.Scan(
		&record.ID, &incidentRef, &record.Title, &desc, &record.DueDate, &record.Status, &priority,
		&tags, &ownerID, &record.Overdue, &record.CreatedAt, &record.UpdatedAt,
		&completedAt, &abortedBy, &abortedAt, &abortReason,
	)
	if err != nil {
		return nil, err
	}

	record.IncidentRef = incidentRef.String
	record.Description = desc.String
	record.Priority = priority.String
	record.OwnerID = ownerID.String
	record.AbortedBy = abortedBy.String
	record.AbortReason = abortReason.String
	record.DueDate = record.DueDate.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		record.CompletedAt = &t
	}
	if abortedAt.Valid {
		t := abortedAt.Time.UTC()
		record.AbortedAt = &t
	}

	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &record.ClassificationTags); err != nil {
			return nil, fmt.Errorf("failed to decode classification tags for %s: %w", record.ID, err)
		}
	}

	return record, nil
}

// Create persists a new corrective action.
func (r *WorkItemRepository) Create(ctx context.Context, item *secondary.WorkItemRecord) error {
	tags := item.ClassificationTags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode classification tags: %w", err)
	}

	status := item.Status
	if status == "" {
		status = "not_started"
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO corrective_actions
			(id, incident_ref, title, description, due_date, status, priority, classification_tags, owner_id, overdue, created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, nullString(item.IncidentRef), item.Title, nullString(item.Description), item.DueDate.UTC(), status,
		nullString(item.Priority), string(encodedTags), nullString(item.OwnerID), item.Overdue,
		item.CreatedAt.UTC(), item.UpdatedAt.UTC(), nullTime(item.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create corrective action: %w", err)
	}

	return nil
}

// GetByID retrieves a corrective action by its ID.
func (r *WorkItemRepository) GetByID(ctx context.Context, id string) (*secondary.WorkItemRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+workItemSelectCols+" FROM corrective_actions WHERE id = ?",
		id,
	)

	record, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("corrective action %s: %w", id, secondary.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get corrective action: %w", err)
	}

	return record, nil
}

// List retrieves corrective actions matching the given filters.
func (r *WorkItemRepository) List(ctx context.Context, filters secondary.WorkItemFilters) ([]*secondary.WorkItemRecord, error) {
	query := "SELECT " + workItemSelectCols + " FROM corrective_actions WHERE 1=1"
	args := []any{}

	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}

	if filters.Overdue != nil {
		query += " AND overdue = ?"
		args = append(args, *filters.Overdue)
	}

	if filters.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filters.OwnerID)
	}

	if filters.IncidentRef != "" {
		query += " AND incident_ref = ?"
		args = append(args, filters.IncidentRef)
	}

	query += " ORDER BY due_date ASC, id ASC"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	return r.query(ctx, "list corrective actions", query, args...)
}

// LoadActiveWorkItems returns one page of non-aborted corrective actions using
// the last seen ID as the page token.
func (r *WorkItemRepository) LoadActiveWorkItems(ctx context.Context, pageToken string, limit int) ([]*secondary.WorkItemRecord, string, error) {
	if limit <= 0 {
		return nil, "", fmt.Errorf("page limit must be positive, got %d", limit)
	}

	// One extra row tells us whether another page exists.
	items, err := r.query(ctx, "load active corrective actions",
		"SELECT "+workItemSelectCols+" FROM corrective_actions WHERE status != 'aborted' AND id > ? ORDER BY id ASC LIMIT ?",
		pageToken, limit+1,
	)
	if err != nil {
		return nil, "", err
	}

	if len(items) <= limit {
		return items, "", nil
	}

	items = items[:limit]
	return items, items[len(items)-1].ID, nil
}

// SaveStatus writes the derived status, overdue flag and completion time,
// and records update.Event in the same transaction. Aborted actions are never
// rewritten here. With ExpectedStatus set, the write only lands while the
// stored status still matches.
func (r *WorkItemRepository) SaveStatus(ctx context.Context, update secondary.StatusUpdate) error {
	query := "UPDATE corrective_actions SET status = ?, overdue = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status != 'aborted'"
	args := []any{update.Status, update.Overdue, nullTime(update.CompletedAt), update.UpdatedAt.UTC(), update.ID}
	if update.ExpectedStatus != "" {
		query += " AND status = ?"
		args = append(args, update.ExpectedStatus)
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update corrective action status: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			if update.ExpectedStatus != "" {
				return fmt.Errorf("corrective action %s no longer %s: %w", update.ID, update.ExpectedStatus, secondary.ErrStaleState)
			}
			return fmt.Errorf("active corrective action %s: %w", update.ID, secondary.ErrNotFound)
		}

		return appendEvent(ctx, tx, update.Event)
	})
}

// SaveAbortMetadata marks a corrective action aborted and records the actor,
// time and reason together with abort.Event. Aborted actions are never
// overdue.
func (r *WorkItemRepository) SaveAbortMetadata(ctx context.Context, abort secondary.AbortRecord) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE corrective_actions
				SET status = 'aborted', overdue = 0, aborted_by = ?, aborted_at = ?, abort_reason = ?, updated_at = ?
				WHERE id = ? AND status != 'aborted'`,
			abort.Actor, abort.AbortedAt.UTC(), abort.Reason, abort.AbortedAt.UTC(), abort.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to abort corrective action: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return fmt.Errorf("active corrective action %s: %w", abort.ID, secondary.ErrNotFound)
		}

		return appendEvent(ctx, tx, abort.Event)
	})
}

// GetNextID returns the next available corrective action ID.
func (r *WorkItemRepository) GetNextID(ctx context.Context) (string, error) {
	var maxID int
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(CAST(SUBSTR(id, 4) AS INTEGER)), 0) FROM corrective_actions",
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next corrective action ID: %w", err)
	}

	return fmt.Sprintf("CA-%04d", maxID+1), nil
}

func (r *WorkItemRepository) query(ctx context.Context, op, query string, args ...any) ([]*secondary.WorkItemRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var items []*secondary.WorkItemRecord
	for rows.Next() {
		record, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan corrective action: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	return items, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
