package secondary

import (
	"context"
	"time"
)

// Event sources.
const (
	SourceMutation = "mutation"
	SourceSweep    = "sweep"
)

// TransitionEvent is one realized status or overdue-flag change.
type TransitionEvent struct {
	ID         string
	ItemID     string
	ItemKind   string // "work_item" or "sub_item"
	OldStatus  string
	NewStatus  string
	OldOverdue bool
	NewOverdue bool
	Actor      string // Empty for sweep-originated changes
	Reason     string
	Source     string
	OccurredAt time.Time
}

// AuditEmitter is a downstream sink for transition events. An event may
// reach a sink more than once.
type AuditEmitter interface {
	Emit(ctx context.Context, event TransitionEvent) error
}

// EventLog is the durable record of transition events. Events are appended
// by the repositories in the same transaction as the state change that
// produced them and stay pending until a sink has accepted them.
type EventLog interface {
	// ListByItem returns the events recorded for an item, oldest first.
	ListByItem(ctx context.Context, itemID string) ([]*TransitionEvent, error)

	// ListPending returns up to limit undelivered events, oldest first.
	ListPending(ctx context.Context, limit int) ([]*TransitionEvent, error)

	// MarkDelivered flags events as accepted by the sinks.
	MarkDelivered(ctx context.Context, ids ...string) error
}
