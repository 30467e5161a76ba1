package primary

import (
	"context"
	"time"
)

// SweepState is the single-flight state of the reconciliation sweeper.
type SweepState string

const (
	SweepIdle    SweepState = "idle"
	SweepRunning SweepState = "running"
	// SweepSkipped is reported for a request that arrived while a sweep was
	// running. It is never stored; the sweeper goes straight back to idle.
	SweepSkipped SweepState = "skipped"
)

// Sweep outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeAborted   = "aborted"   // a page failed to load
	OutcomeCancelled = "cancelled" // context cancelled between pages
)

// ReconcileService defines the primary port for the reconciliation sweep.
type ReconcileService interface {
	// Sweep runs one reconciliation pass at reference time now.
	// A call made while another pass is running returns a skipped report
	// without touching persistence.
	Sweep(ctx context.Context, now time.Time) (*SweepReport, error)

	// State returns the current single-flight state.
	State() SweepState
}

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	RunID             string
	Outcome           string
	StartedAt         time.Time
	FinishedAt        time.Time
	Pages             int
	Scanned           int // corrective actions examined
	Changed           int // items (either kind) whose status or overdue flag was written
	EventsEmitted     int
	EventsRedelivered int // pending events from earlier writes delivered by this pass
	Failed            []ItemFailure
}

// ItemFailure records one corrective action the sweep could not reconcile.
type ItemFailure struct {
	ActionID string
	Err      error
}

// Duration returns how long the pass took.
func (r *SweepReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
