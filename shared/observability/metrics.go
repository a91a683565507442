package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "speaking-practice"

// Metrics holds the instruments recorded by the session engine
type Metrics struct {
	turns       metric.Int64Counter
	fallbacks   metric.Int64Counter
	turnLatency metric.Float64Histogram
	connections metric.Int64UpDownCounter
	sessions    metric.Int64UpDownCounter
	storeOps    metric.Int64Counter
	swept       metric.Int64Counter
	wsEvents    metric.Int64Counter
}

// NewMetrics creates the instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.turns, err = meter.Int64Counter("practice_turns_total",
		metric.WithDescription("Conversation turns processed, by modality")); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter("practice_fallbacks_total",
		metric.WithDescription("Collaborator failures answered with fallback content, by stage")); err != nil {
		return nil, err
	}
	if m.turnLatency, err = meter.Float64Histogram("practice_turn_duration_seconds",
		metric.WithDescription("Time from turn start to reply"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64UpDownCounter("practice_ws_connections",
		metric.WithDescription("Open realtime connections")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64UpDownCounter("practice_live_sessions",
		metric.WithDescription("Sessions held in the live registry")); err != nil {
		return nil, err
	}
	if m.storeOps, err = meter.Int64Counter("practice_store_operations_total",
		metric.WithDescription("Session store operations, by op and result")); err != nil {
		return nil, err
	}
	if m.swept, err = meter.Int64Counter("practice_sessions_swept_total",
		metric.WithDescription("Expired records removed by the sweep")); err != nil {
		return nil, err
	}
	if m.wsEvents, err = meter.Int64Counter("practice_ws_events_total",
		metric.WithDescription("Inbound realtime events, by type and outcome")); err != nil {
		return nil, err
	}

	return m, nil
}

// NopMetrics records nothing
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) TurnCompleted(ctx context.Context, modality string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("modality", modality))
	m.turns.Add(ctx, 1, attrs)
	m.turnLatency.Record(ctx, seconds, attrs)
}

func (m *Metrics) Fallback(ctx context.Context, stage string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) ConnectionOpened(ctx context.Context) { m.connections.Add(ctx, 1) }
func (m *Metrics) ConnectionClosed(ctx context.Context) { m.connections.Add(ctx, -1) }

func (m *Metrics) SessionLoaded(ctx context.Context)  { m.sessions.Add(ctx, 1) }
func (m *Metrics) SessionRemoved(ctx context.Context) { m.sessions.Add(ctx, -1) }

func (m *Metrics) StoreOp(ctx context.Context, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func (m *Metrics) Swept(ctx context.Context, n int) {
	if n > 0 {
		m.swept.Add(ctx, int64(n))
	}
}

func (m *Metrics) Event(ctx context.Context, eventType, outcome string) {
	m.wsEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}
