// Package telemetry provides OpenTelemetry metrics for capa.
//
// Telemetry is disabled by default; a no-op meter provider is installed and
// instruments cost nothing.
//
// # Configuration
//
//	telemetry.enabled / CAPA_TELEMETRY_ENABLED=true   enable metrics
//	telemetry.stdout  / CAPA_TELEMETRY_STDOUT=true    export to stdout every 15s
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/example/capa/internal/config"
)

const instrumentationScope = "github.com/example/capa"

// Provider owns the process meter provider.
type Provider struct {
	meterProvider metric.MeterProvider
	shutdown      func(context.Context) error
}

// Init builds the meter provider described by cfg and installs it globally.
func Init(cfg config.TelemetryConfig, serviceVersion string) (*Provider, error) {
	if !cfg.Enabled {
		mp := metricnoop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return &Provider{meterProvider: mp, shutdown: func(context.Context) error { return nil }}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "capa"),
		attribute.String("service.version", serviceVersion),
	)
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, shutdown: mp.Shutdown}, nil
}

// Meter returns a meter with the capa instrumentation scope.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(instrumentationScope)
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
