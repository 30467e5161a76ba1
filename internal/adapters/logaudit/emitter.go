// Package logaudit provides the zerolog audit sink: every delivered
// transition event becomes one structured log line for operators.
package logaudit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/example/capa/internal/ctxutil"
	"github.com/example/capa/internal/ports/secondary"
)

// Emitter writes each transition event as one structured log line.
type Emitter struct {
	log zerolog.Logger
}

// NewEmitter creates a log emitter.
func NewEmitter(log zerolog.Logger) *Emitter {
	return &Emitter{log: log.With().Str("component", "audit").Logger()}
}

// Emit logs the event at info level.
func (e *Emitter) Emit(ctx context.Context, event secondary.TransitionEvent) error {
	ev := e.log.Info().
		Str("event_id", event.ID).
		Str("item_id", event.ItemID).
		Str("item_kind", event.ItemKind).
		Str("source", event.Source).
		Time("occurred_at", event.OccurredAt)

	if event.OldStatus != event.NewStatus {
		ev = ev.Str("old_status", event.OldStatus).Str("new_status", event.NewStatus)
	} else {
		ev = ev.Str("status", event.NewStatus)
	}
	if event.OldOverdue != event.NewOverdue {
		ev = ev.Bool("old_overdue", event.OldOverdue).Bool("new_overdue", event.NewOverdue)
	}
	if event.Actor != "" {
		ev = ev.Str("actor", event.Actor)
	}
	if event.Reason != "" {
		ev = ev.Str("reason", event.Reason)
	}
	if run := ctxutil.RunIDFromContext(ctx); run != "" {
		ev = ev.Str("run_id", run)
	}

	ev.Msg("status transition")
	return nil
}
