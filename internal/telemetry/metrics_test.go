package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/example/capa/internal/config"
	"github.com/example/capa/internal/ports/primary"
	"github.com/example/capa/internal/ports/secondary"
)

type nopEmitter struct {
	n   int
	err error
}

func (e *nopEmitter) Emit(context.Context, secondary.TransitionEvent) error {
	e.n++
	return e.err
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestSweepMetrics_ObserveSweep(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewSweepMetrics(mp.Meter("test"))
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.ObserveSweep(context.Background(), &primary.SweepReport{
		Outcome:    primary.OutcomeCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(40 * time.Millisecond),
		Scanned:    12,
		Changed:    3,
		Failed:     []primary.ItemFailure{{ActionID: "CA-0004"}},
	})
	m.ObserveSweep(context.Background(), &primary.SweepReport{Outcome: primary.OutcomeSkipped, Scanned: 99})

	sums := collect(t, reader)
	assert.Equal(t, int64(2), sums["capa.sweep.runs"])
	assert.Equal(t, int64(12), sums["capa.sweep.items.scanned"])
	assert.Equal(t, int64(3), sums["capa.sweep.items.changed"])
	assert.Equal(t, int64(1), sums["capa.sweep.items.failed"])
}

func TestCountingEmitter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inner := &nopEmitter{}
	e, err := NewCountingEmitter(mp.Meter("test"), inner)
	require.NoError(t, err)

	require.NoError(t, e.Emit(context.Background(), secondary.TransitionEvent{ItemKind: "sub_item", Source: secondary.SourceSweep}))
	require.NoError(t, e.Emit(context.Background(), secondary.TransitionEvent{ItemKind: "work_item", Source: secondary.SourceMutation}))

	assert.Equal(t, 2, inner.n)
	assert.Equal(t, int64(2), collect(t, reader)["capa.transitions"])

	inner.err = errors.New("sink down")
	require.Error(t, e.Emit(context.Background(), secondary.TransitionEvent{ItemKind: "work_item", Source: secondary.SourceSweep}))
	assert.Equal(t, int64(2), collect(t, reader)["capa.transitions"], "rejected events are not counted")
}

func TestInit_DisabledIsNoop(t *testing.T) {
	p, err := Init(config.TelemetryConfig{}, "test")
	require.NoError(t, err)

	m, err := NewSweepMetrics(p.Meter())
	require.NoError(t, err)
	m.ObserveSweep(context.Background(), &primary.SweepReport{Outcome: primary.OutcomeCompleted})
	assert.NoError(t, p.Shutdown(context.Background()))
}
