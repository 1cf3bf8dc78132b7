package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ProviderConfig selects where metrics are exported.
type ProviderConfig struct {
	OTLPEndpoint string        // e.g. "localhost:4317"; empty disables export
	Insecure     bool          // plaintext gRPC (dev only)
	Interval     time.Duration // export period
}

// Setup installs a global MeterProvider exporting over OTLP/gRPC when an
// endpoint is configured. The returned shutdown flushes pending metrics;
// it is a no-op when export is disabled.
func Setup(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)
	otel.SetMeterProvider(provider)
	log.Printf("telemetry: exporting metrics to %s every %s", cfg.OTLPEndpoint, interval)

	return provider.Shutdown, nil
}
