// Package telemetry provides OpenTelemetry metric instruments for the
// aggregation server. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/kropbot/kropbot/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/kropbot/kropbot"

// Metrics groups the counters recorded on the hot paths.
type Metrics struct {
	meter metric.Meter

	instructions    metric.Int64Counter
	rejected        metric.Int64Counter
	evictions       metric.Int64Counter
	publishes       metric.Int64Counter
	publishFailures metric.Int64Counter
	framesRelayed   metric.Int64Counter
	framesDropped   metric.Int64Counter
}

// New creates the instruments on the global meter provider. With no
// provider installed they are no-ops.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(instrumentationName))
}

func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.instructions, err = meter.Int64Counter("kropbot.instructions.accepted",
		metric.WithDescription("Instructions recorded in the session registry"),
		metric.WithUnit("{instruction}"),
	); err != nil {
		return nil, fmt.Errorf("instructions counter: %w", err)
	}
	if m.rejected, err = meter.Int64Counter("kropbot.instructions.rejected",
		metric.WithDescription("Instructions rejected before reaching the registry"),
		metric.WithUnit("{instruction}"),
	); err != nil {
		return nil, fmt.Errorf("rejected counter: %w", err)
	}
	if m.evictions, err = meter.Int64Counter("kropbot.sessions.evicted",
		metric.WithDescription("Sessions evicted by the liveness sweeper"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("evictions counter: %w", err)
	}
	if m.publishes, err = meter.Int64Counter("kropbot.status.published",
		metric.WithDescription("Aggregate states published to clients"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("publishes counter: %w", err)
	}
	if m.publishFailures, err = meter.Int64Counter("kropbot.status.publish_failures",
		metric.WithDescription("Clients dropped because their send queue was full"),
		metric.WithUnit("{client}"),
	); err != nil {
		return nil, fmt.Errorf("publish failures counter: %w", err)
	}
	if m.framesRelayed, err = meter.Int64Counter("kropbot.frames.relayed",
		metric.WithDescription("Camera frames handed to client connections"),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, fmt.Errorf("frames relayed counter: %w", err)
	}
	if m.framesDropped, err = meter.Int64Counter("kropbot.frames.dropped",
		metric.WithDescription("Camera frames dropped because a client was still sending the previous one"),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, fmt.Errorf("frames dropped counter: %w", err)
	}

	return m, nil
}

// ObserveGauges registers callbacks reporting live controllers and
// connected clients at collection time.
func (m *Metrics) ObserveGauges(controllers, clients func() int) error {
	if m == nil {
		return nil
	}
	_, err1 := m.meter.Int64ObservableGauge("kropbot.controllers.live",
		metric.WithDescription("Sessions currently contributing to the consensus"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(controllers()))
			return nil
		}),
	)
	_, err2 := m.meter.Int64ObservableGauge("kropbot.clients.connected",
		metric.WithDescription("Open WebSocket connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(clients()))
			return nil
		}),
	)
	return errors.Join(err1, err2)
}

func (m *Metrics) InstructionAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.instructions.Add(ctx, 1)
}

func (m *Metrics) InstructionRejected(ctx context.Context, reason error) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reasonLabel(reason))))
}

func (m *Metrics) SessionsEvicted(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.evictions.Add(ctx, int64(n))
}

func (m *Metrics) StatusPublished(ctx context.Context) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1)
}

func (m *Metrics) PublishFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.publishFailures.Add(ctx, 1)
}

func (m *Metrics) FrameRelayed(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.framesRelayed.Add(ctx, int64(n))
}

func (m *Metrics) FrameDropped(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.framesDropped.Add(ctx, int64(n))
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidDirection):
		return "invalid_direction"
	case errors.Is(err, session.ErrEmptyID):
		return "empty_id"
	default:
		return "other"
	}
}
