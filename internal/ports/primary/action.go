package primary

import (
	"context"
	"time"
)

// ActionService defines the primary port for corrective action operations.
type ActionService interface {
	// CreateAction opens a new corrective action in not_started.
	CreateAction(ctx context.Context, req CreateActionRequest) (*Action, error)

	// CreateSubAction opens a new sub-action under a corrective action and
	// re-derives the parent.
	CreateSubAction(ctx context.Context, req CreateSubActionRequest) (*StatusChangeResult, error)

	// GetAction retrieves a corrective action with its sub-actions.
	GetAction(ctx context.Context, actionID string) (*Action, error)

	// GetSubAction retrieves a single sub-action.
	GetSubAction(ctx context.Context, subActionID string) (*SubAction, error)

	// ListActions lists corrective actions with optional filters.
	ListActions(ctx context.Context, filters ActionFilters) ([]*Action, error)

	// ApplySubActionStatusChange validates and applies a sub-action status
	// change, then re-derives its corrective action.
	ApplySubActionStatusChange(ctx context.Context, req StatusChangeRequest) (*StatusChangeResult, error)

	// PreviewSubActionStatusChange returns what ApplySubActionStatusChange
	// would produce without writing anything.
	PreviewSubActionStatusChange(ctx context.Context, req StatusChangeRequest) (*StatusChangeResult, error)

	// ApplyActionStatusChange writes a corrective action status directly.
	// Only abort is accepted for actions that have sub-actions.
	ApplyActionStatusChange(ctx context.Context, req StatusChangeRequest) (*Action, error)

	// ListEvents returns the audit history of a corrective action or sub-action.
	ListEvents(ctx context.Context, itemID string) ([]*Event, error)
}

// CreateActionRequest contains parameters for opening a corrective action.
type CreateActionRequest struct {
	IncidentRef        string
	Title              string
	Description        string
	DueDate            time.Time
	Priority           string
	ClassificationTags []string
	OwnerID            string
}

// CreateSubActionRequest contains parameters for opening a sub-action.
type CreateSubActionRequest struct {
	ActionID    string
	Title       string
	Description string
	DueDate     *time.Time
	AssigneeID  string
}

// StatusChangeRequest contains parameters for a status change on either kind.
// Actor falls back to the actor carried in the context when empty.
type StatusChangeRequest struct {
	ItemID string
	Status string
	Actor  string
	Reason string
}

// StatusChangeResult contains the sub-action and its corrective action after
// a change.
type StatusChangeResult struct {
	SubAction *SubAction
	Action    *Action
}

// ActionFilters contains filter options for listing corrective actions.
type ActionFilters struct {
	Status      string
	Overdue     *bool
	OwnerID     string
	IncidentRef string
	Limit       int
}

// Action represents a corrective action at the port boundary.
type Action struct {
	ID                 string
	IncidentRef        string
	Title              string
	Description        string
	DueDate            time.Time
	Status             string
	Priority           string
	ClassificationTags []string
	OwnerID            string
	Overdue            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	AbortedBy          string
	AbortedAt          *time.Time
	AbortReason        string
	SubActions         []*SubAction     // Populated by GetAction and status changes
	Counts             *SubActionCounts // Populated alongside SubActions
	AllowedNext        []string         // Statuses accepted by ApplyActionStatusChange
}

// SubActionCounts tallies sub-actions by status.
type SubActionCounts struct {
	NotStarted int
	InProgress int
	Completed  int
	Cancelled  int
}

// SubAction represents a sub-action at the port boundary.
type SubAction struct {
	ID          string
	ActionID    string
	Title       string
	Description string
	DueDate     *time.Time
	Status      string
	AssigneeID  string
	Overdue     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	AllowedNext []string
}

// Event represents an audit record at the port boundary.
type Event struct {
	ID         string
	ItemID     string
	ItemKind   string
	OldStatus  string
	NewStatus  string
	OldOverdue bool
	NewOverdue bool
	Actor      string
	Reason     string
	Source     string
	OccurredAt time.Time
}
