// Package scheduler drives reconciliation sweeps on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/example/capa/internal/config"
	"github.com/example/capa/internal/ports/primary"
)

// Scheduler fires a sweep on every tick of cfg.Interval. Ticks are never
// queued: a tick that lands while a sweep is running reaches the sweeper,
// which reports it as skipped.
type Scheduler struct {
	cfg config.SweepConfig
	svc primary.ReconcileService
	log zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler for svc.
func New(cfg config.SweepConfig, svc primary.ReconcileService, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		svc: svc,
		log: log.With().Str("component", "scheduler").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start begins ticking. Sweeps run with a context derived from ctx that is
// cancelled by Stop. Start on a disabled or already running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.svc == nil || !s.cfg.Enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	spec := s.cfg.CronSpec()
	if _, err := c.AddFunc(spec, func() { s.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule sweep %q: %w", spec, err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Info().Str("spec", spec).Int("batch_size", s.cfg.BatchSize).Msg("sweep scheduler started")
	return nil
}

// Stop halts ticking, cancels the sweep in flight between pages and waits
// for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	c, cancel, wasRunning := s.cron, s.cancel, s.running
	s.cron, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce performs one sweep at now outside the tick cycle.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (*primary.SweepReport, error) {
	return s.svc.Sweep(ctx, now.UTC())
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.RunOnce(ctx, s.now())
	if err != nil {
		// The sweeper has already logged the details; the next tick retries.
		s.log.Debug().Err(err).Msg("scheduled sweep did not complete")
		return
	}
	if report.Outcome == primary.OutcomeSkipped {
		s.log.Info().Msg("previous sweep still running; tick dropped")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
