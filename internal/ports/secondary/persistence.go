// Package secondary defines the driven ports of the corrective action engine:
// persistence and the audit/notification boundary.
package secondary

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPersistenceFailure wraps any error coming out of the storage boundary.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleState indicates a conditional write found a stored status other
	// than the one it was derived from.
	ErrStaleState = errors.New("changed concurrently")
)

// WorkItemRecord represents a corrective action as stored in persistence.
type WorkItemRecord struct {
	ID                 string
	IncidentRef        string // Empty string means null
	Title              string
	Description        string // Empty string means null
	DueDate            time.Time
	Status             string
	Priority           string // Empty string means null
	ClassificationTags []string
	OwnerID            string // Empty string means null
	Overdue            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	AbortedBy          string // Empty string means null
	AbortedAt          *time.Time
	AbortReason        string // Empty string means null
}

// SubItemRecord represents a sub-action as stored in persistence.
type SubItemRecord struct {
	ID          string
	ParentID    string
	Title       string
	Description string     // Empty string means null
	DueDate     *time.Time // Optional
	Status      string
	AssigneeID  string // Empty string means null
	Overdue     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// StatusUpdate carries a status/overdue write for either item kind.
type StatusUpdate struct {
	ID          string
	Status      string
	Overdue     bool
	CompletedAt *time.Time
	UpdatedAt   time.Time

	// ExpectedStatus, when set, makes the write conditional on the stored
	// status. A mismatch fails with ErrStaleState.
	ExpectedStatus string

	// Event, when set, is recorded in the same transaction as the write.
	Event *TransitionEvent
}

// OverdueUpdate rewrites the overdue flag of a sub-action and nothing else.
// The write only lands while the stored status equals ExpectedStatus.
type OverdueUpdate struct {
	ID             string
	ExpectedStatus string
	Overdue        bool
	UpdatedAt      time.Time
	Event          *TransitionEvent
}

// AbortRecord carries the abort metadata triple for a corrective action.
type AbortRecord struct {
	ID        string
	Actor     string
	Reason    string
	AbortedAt time.Time
	Event     *TransitionEvent
}

// WorkItemFilters contains filter options for listing corrective actions.
type WorkItemFilters struct {
	Status      string
	Overdue     *bool
	OwnerID     string
	IncidentRef string
	Limit       int
}

// WorkItemRepository defines the secondary port for corrective action persistence.
type WorkItemRepository interface {
	// Create persists a new corrective action.
	Create(ctx context.Context, item *WorkItemRecord) error

	// GetByID retrieves a corrective action by ID.
	GetByID(ctx context.Context, id string) (*WorkItemRecord, error)

	// List retrieves corrective actions matching the given filters.
	List(ctx context.Context, filters WorkItemFilters) ([]*WorkItemRecord, error)

	// LoadActiveWorkItems returns one page of non-aborted corrective actions
	// ordered by ID. An empty pageToken starts from the beginning; an empty
	// next token means the scan is complete.
	LoadActiveWorkItems(ctx context.Context, pageToken string, limit int) ([]*WorkItemRecord, string, error)

	// SaveStatus writes status, overdue flag and completion time.
	SaveStatus(ctx context.Context, update StatusUpdate) error

	// SaveAbortMetadata marks the action aborted and records who, when and why.
	SaveAbortMetadata(ctx context.Context, abort AbortRecord) error

	// GetNextID returns the next available corrective action ID.
	GetNextID(ctx context.Context) (string, error)
}

// SubItemRepository defines the secondary port for sub-action persistence.
type SubItemRepository interface {
	// Create persists a new sub-action.
	Create(ctx context.Context, item *SubItemRecord) error

	// GetByID retrieves a sub-action by ID.
	GetByID(ctx context.Context, id string) (*SubItemRecord, error)

	// LoadChildren returns every sub-action of a corrective action ordered by ID.
	LoadChildren(ctx context.Context, parentID string) ([]*SubItemRecord, error)

	// SaveStatus writes status, overdue flag and completion time.
	SaveStatus(ctx context.Context, update StatusUpdate) error

	// SaveOverdue writes the overdue flag only, guarded by the expected status.
	SaveOverdue(ctx context.Context, update OverdueUpdate) error

	// GetNextID returns the next available sub-action ID.
	GetNextID(ctx context.Context) (string, error)
}
