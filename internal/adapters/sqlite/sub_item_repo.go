package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/capa/internal/ports/secondary"
)

// SubItemRepository implements secondary.SubItemRepository with SQLite.
type SubItemRepository struct {
	db *sql.DB
}

// NewSubItemRepository creates a new SQLite sub-action repository.
func NewSubItemRepository(db *sql.DB) *SubItemRepository {
	return &SubItemRepository{db: db}
}

const subItemSelectCols = "id, action_id, title, description, due_date, status, assignee_id, overdue, created_at, updated_at, completed_at"

func scanSubItem(scanner interface {
	Scan(dest ...any) error
}) (*secondary.SubItemRecord, error) {
	var (
		desc        sql.NullString
		dueDate     sql.NullTime
		assigneeID  sql.NullString
		completedAt sql.NullTime
	)

	record := &secondary.SubItemRecord{}
	err := scanner.Scan(
		&record.ID, &record.ParentID, &record.Title, &desc, &dueDate, &record.Status,
		&assigneeID, &record.Overdue, &record.CreatedAt, &record.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Description = desc.String
	record.AssigneeID = assigneeID.String
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()

	if dueDate.Valid {
		t := dueDate.Time.UTC()
		record.DueDate = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		record.CompletedAt = &t
	}

	return record, nil
}

// Create persists a new sub-action.
func (r *SubItemRepository) Create(ctx context.Context, item *secondary.SubItemRecord) error {
	status := item.Status
	if status == "" {
		status = "not_started"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sub_actions
			(id, action_id, title, description, due_date, status, assignee_id, overdue, created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ParentID, item.Title, nullString(item.Description), nullTime(item.DueDate), status,
		nullString(item.AssigneeID), item.Overdue, item.CreatedAt.UTC(), item.UpdatedAt.UTC(), nullTime(item.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create sub-action: %w", err)
	}

	return nil
}

// GetByID retrieves a sub-action by its ID.
func (r *SubItemRepository) GetByID(ctx context.Context, id string) (*secondary.SubItemRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+subItemSelectCols+" FROM sub_actions WHERE id = ?",
		id,
	)

	record, err := scanSubItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sub-action %s: %w", id, secondary.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-action: %w", err)
	}

	return record, nil
}

// LoadChildren returns every sub-action of a corrective action ordered by ID.
func (r *SubItemRepository) LoadChildren(ctx context.Context, parentID string) ([]*secondary.SubItemRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+subItemSelectCols+" FROM sub_actions WHERE action_id = ? ORDER BY id ASC",
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load sub-actions: %w", err)
	}
	defer rows.Close()

	var items []*secondary.SubItemRecord
	for rows.Next() {
		record, err := scanSubItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub-action: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load sub-actions: %w", err)
	}

	return items, nil
}

// SaveStatus writes status, overdue flag and completion time, and records
// update.Event in the same transaction. With ExpectedStatus set, the write
// only lands while the stored status still matches.
func (r *SubItemRepository) SaveStatus(ctx context.Context, update secondary.StatusUpdate) error {
	query := "UPDATE sub_actions SET status = ?, overdue = ?, completed_at = ?, updated_at = ? WHERE id = ?"
	args := []any{update.Status, update.Overdue, nullTime(update.CompletedAt), update.UpdatedAt.UTC(), update.ID}
	if update.ExpectedStatus != "" {
		query += " AND status = ?"
		args = append(args, update.ExpectedStatus)
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update sub-action status: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			if update.ExpectedStatus != "" {
				return fmt.Errorf("sub-action %s no longer %s: %w", update.ID, update.ExpectedStatus, secondary.ErrStaleState)
			}
			return fmt.Errorf("sub-action %s: %w", update.ID, secondary.ErrNotFound)
		}

		return appendEvent(ctx, tx, update.Event)
	})
}

// SaveOverdue writes the overdue flag of a sub-action whose status is still
// update.ExpectedStatus, and records update.Event in the same transaction.
func (r *SubItemRepository) SaveOverdue(ctx context.Context, update secondary.OverdueUpdate) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE sub_actions SET overdue = ?, updated_at = ? WHERE id = ? AND status = ?",
			update.Overdue, update.UpdatedAt.UTC(), update.ID, update.ExpectedStatus,
		)
		if err != nil {
			return fmt.Errorf("failed to update sub-action overdue flag: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return fmt.Errorf("sub-action %s no longer %s: %w", update.ID, update.ExpectedStatus, secondary.ErrStaleState)
		}

		return appendEvent(ctx, tx, update.Event)
	})
}

// GetNextID returns the next available sub-action ID.
func (r *SubItemRepository) GetNextID(ctx context.Context) (string, error) {
	var maxID int
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(CAST(SUBSTR(id, 4) AS INTEGER)), 0) FROM sub_actions",
	).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("failed to get next sub-action ID: %w", err)
	}

	return fmt.Sprintf("SA-%04d", maxID+1), nil
}
