package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/ports/secondary"
)

// SweepMetrics records reconciliation sweep results.
type SweepMetrics struct {
	runs     metric.Int64Counter
	scanned  metric.Int64Counter
	changed  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSweepMetrics registers the capa.sweep.* instruments on meter.
func NewSweepMetrics(meter metric.Meter) (*SweepMetrics, error) {
	runs, err1 := meter.Int64Counter("capa.sweep.runs",
		metric.WithDescription("Sweep requests by outcome"),
	)
	scanned, err2 := meter.Int64Counter("capa.sweep.items.scanned",
		metric.WithDescription("Corrective actions examined by sweeps"),
	)
	changed, err3 := meter.Int64Counter("capa.sweep.items.changed",
		metric.WithDescription("Items whose status or overdue flag a sweep rewrote"),
	)
	failures, err4 := meter.Int64Counter("capa.sweep.items.failed",
		metric.WithDescription("Corrective actions a sweep could not reconcile"),
	)
	duration, err5 := meter.Float64Histogram("capa.sweep.duration",
		metric.WithDescription("Sweep duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &SweepMetrics{
		runs:     runs,
		scanned:  scanned,
		changed:  changed,
		failures: failures,
		duration: duration,
	}, nil
}

// ObserveSweep records one sweep report. Skipped requests only count as runs.
func (m *SweepMetrics) ObserveSweep(ctx context.Context, report *primary.SweepReport) {
	outcome := metric.WithAttributes(attribute.String("outcome", report.Outcome))
	m.runs.Add(ctx, 1, outcome)
	if report.Outcome == primary.OutcomeSkipped {
		return
	}

	m.scanned.Add(ctx, int64(report.Scanned))
	m.changed.Add(ctx, int64(report.Changed))
	m.failures.Add(ctx, int64(len(report.Failed)))
	m.duration.Record(ctx, float64(report.Duration().Milliseconds()), outcome)
}

// CountingEmitter hands transition events to the wrapped emitter and counts
// the ones it accepts by item kind and source.
type CountingEmitter struct {
	inner       secondary.AuditEmitter
	transitions metric.Int64Counter
}

// NewCountingEmitter wraps inner with the capa.transitions counter.
func NewCountingEmitter(meter metric.Meter, inner secondary.AuditEmitter) (*CountingEmitter, error) {
	transitions, err := meter.Int64Counter("capa.transitions",
		metric.WithDescription("Realized status or overdue changes by item kind and source"),
	)
	if err != nil {
		return nil, err
	}
	return &CountingEmitter{inner: inner, transitions: transitions}, nil
}

// Emit forwards the event and counts it once the wrapped emitter accepts it.
func (e *CountingEmitter) Emit(ctx context.Context, event secondary.TransitionEvent) error {
	if err := e.inner.Emit(ctx, event); err != nil {
		return err
	}
	e.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("item_kind", event.ItemKind),
		attribute.String("source", event.Source),
		attribute.Bool("status_changed", event.OldStatus != event.NewStatus),
	))
	return nil
}
