package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/capa/internal/core/aggregation"
	"github.com/example/capa/internal/core/overdue"
	"github.com/example/capa/internal/ctxutil"
	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/ports/secondary"
)

// DefaultBatchSize is the sweep page size used when none is configured.
const DefaultBatchSize = 100

// SweepObserver is notified after every sweep request, including skipped ones.
type SweepObserver interface {
	ObserveSweep(ctx context.Context, report *primary.SweepReport)
}

const (
	stateIdle int32 = iota
	stateRunning
)

// ReconcileServiceImpl implements the ReconcileService interface.
type ReconcileServiceImpl struct {
	workItems secondary.WorkItemRepository
	subItems  secondary.SubItemRepository
	writer    *stateWriter
	policy    overdue.Policy
	batchSize int
	observer  SweepObserver
	state     atomic.Int32
	now       func() time.Time
	log       zerolog.Logger
}

// NewReconcileService creates a new ReconcileService with injected dependencies.
// observer may be nil. Each pass first redelivers pending events from events
// to sink.
func NewReconcileService(
	workItems secondary.WorkItemRepository,
	subItems secondary.SubItemRepository,
	sink secondary.AuditEmitter,
	events secondary.EventLog,
	policy overdue.Policy,
	batchSize int,
	observer SweepObserver,
	log zerolog.Logger,
) *ReconcileServiceImpl {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	log = log.With().Str("component", "sweeper").Logger()
	return &ReconcileServiceImpl{
		workItems: workItems,
		subItems:  subItems,
		writer: &stateWriter{
			workItems: workItems,
			subItems:  subItems,
			events:    events,
			sink:      sink,
			log:       log,
		},
		policy:    policy,
		batchSize: batchSize,
		observer:  observer,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// State returns the current single-flight state.
func (s *ReconcileServiceImpl) State() primary.SweepState {
	if s.state.Load() == stateRunning {
		return primary.SweepRunning
	}
	return primary.SweepIdle
}

// Sweep runs one reconciliation pass at reference time now. Every
// non-aborted corrective action and its sub-actions are re-derived and
// written only where the stored state differs.
//
// A failure on one corrective action is recorded in the report and the pass
// moves on. A failure loading a page ends the pass with an error; the next
// tick starts over. Cancellation is checked between pages.
func (s *ReconcileServiceImpl) Sweep(ctx context.Context, now time.Time) (*primary.SweepReport, error) {
	report := &primary.SweepReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}
	log := s.log.With().Str("run_id", report.RunID).Logger()

	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		report.Outcome = primary.OutcomeSkipped
		report.FinishedAt = report.StartedAt
		log.Debug().Msg("sweep already running; skipped")
		s.observe(ctx, report)
		return report, nil
	}
	defer s.state.Store(stateIdle)
	ctx = ctxutil.WithRunID(ctx, report.RunID)

	log.Debug().Time("now", now).Int("batch_size", s.batchSize).Msg("sweep started")

	redelivered, rerr := s.writer.redeliver(context.WithoutCancel(ctx), s.batchSize)
	report.EventsRedelivered = redelivered
	if rerr != nil {
		log.Warn().Err(rerr).Int("redelivered", redelivered).Msg("pending transition events not delivered")
	}

	err := s.sweepPages(ctx, now, report, log)
	report.FinishedAt = s.now()

	switch {
	case err == nil:
		report.Outcome = primary.OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		report.Outcome = primary.OutcomeCancelled
	default:
		report.Outcome = primary.OutcomeAborted
	}

	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("outcome", report.Outcome).
		Int("pages", report.Pages).
		Int("scanned", report.Scanned).
		Int("changed", report.Changed).
		Int("events", report.EventsEmitted).
		Int("redelivered", report.EventsRedelivered).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration()).
		Msg("sweep finished")

	s.observe(ctx, report)
	return report, err
}

func (s *ReconcileServiceImpl) sweepPages(ctx context.Context, now time.Time, report *primary.SweepReport, log zerolog.Logger) error {
	// A page that has started runs to completion; cancellation is only
	// observed before the next page is loaded.
	work := context.WithoutCancel(ctx)

	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, next, err := s.workItems.LoadActiveWorkItems(work, token, s.batchSize)
		if err != nil {
			return storageError(fmt.Sprintf("load page after %q", token), err)
		}
		report.Pages++

		for _, item := range items {
			report.Scanned++
			changed, emitted, err := s.reconcileItem(work, item, now)
			report.EventsEmitted += emitted
			if err != nil {
				log.Warn().Err(err).Str("action_id", item.ID).Msg("failed to reconcile corrective action")
				report.Failed = append(report.Failed, primary.ItemFailure{ActionID: item.ID, Err: err})
				continue
			}
			report.Changed += changed
		}

		if next == "" {
			return nil
		}
		token = next
	}
}

// reconcileItem re-derives one corrective action and its sub-actions. It
// returns how many items were written and how many events were emitted.
// Processing of the item stops at its first failure.
func (s *ReconcileServiceImpl) reconcileItem(ctx context.Context, item *secondary.WorkItemRecord, now time.Time) (int, int, error) {
	parentFrom, err := parentStateOf(item)
	if err != nil {
		return 0, 0, err
	}

	children, err := s.subItems.LoadChildren(ctx, item.ID)
	if err != nil {
		return 0, 0, storageError("load sub-actions of "+item.ID, err)
	}
	states, err := childStatesOf(children)
	if err != nil {
		return 0, 0, err
	}

	c := change{source: secondary.SourceSweep, at: now}
	changed, emitted := 0, 0

	for i, child := range children {
		next := aggregation.DeriveChild(states[i], now, s.policy)
		if next.Equal(states[i]) {
			continue
		}
		ok, err := s.writer.writeOverdue(ctx, child, states[i], next, c)
		if errors.Is(err, secondary.ErrStaleState) {
			// A mutation moved the sub-action on after it was read and has
			// re-derived the corrective action itself.
			s.log.Debug().Str("action_id", item.ID).Str("sub_action_id", child.ID).Msg("sub-action changed during sweep; left to the next pass")
			return changed, emitted, nil
		}
		if err != nil {
			return changed, emitted, err
		}
		if ok {
			emitted++
		}
		changed++
		states[i] = next
	}

	parentTo := aggregation.DeriveParent(parentFrom, aggregation.ChildStatuses(states), now, s.policy)
	if parentTo.Equal(parentFrom) {
		return changed, emitted, nil
	}

	ok, err := s.writer.writeParent(ctx, item, parentFrom, parentTo, c)
	if errors.Is(err, secondary.ErrNotFound) || errors.Is(err, secondary.ErrStaleState) {
		// Aborted or re-derived by a mutation since the page was loaded.
		s.log.Debug().Str("action_id", item.ID).Msg("corrective action changed during sweep; left to the next pass")
		return changed, emitted, nil
	}
	if err != nil {
		return changed, emitted, err
	}
	if ok {
		emitted++
	}
	return changed + 1, emitted, nil
}

func (s *ReconcileServiceImpl) observe(ctx context.Context, report *primary.SweepReport) {
	if s.observer != nil {
		s.observer.ObserveSweep(ctx, report)
	}
}
