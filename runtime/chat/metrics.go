package chat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records session-level instrumentation through OTEL. Construct once
// per process and share across sessions; all methods are safe for concurrent
// use. A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter
}

// NewMetrics builds a Metrics recorder on the global MeterProvider. Configure
// the provider (e.g. via clue.ConfigureOpenTelemetry) before serving traffic.
func NewMetrics() *Metrics {
	return &Metrics{meter: otel.Meter("github.com/HoomanBuilds/nosana-chat/runtime/chat")}
}

// RecordDuration records the wall-clock duration of a finished session.
func (m *Metrics) RecordDuration(ctx context.Context, kind StrategyKind, state TerminalState, d time.Duration) {
	if m == nil {
		return
	}
	hist, err := m.meter.Float64Histogram("chat.session.duration")
	if err != nil {
		return
	}
	hist.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("strategy", string(kind)),
		attribute.String("state", string(state)),
	))
}

// IncRetry counts one cold-start retry.
func (m *Metrics) IncRetry(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	counter, err := m.meter.Int64Counter("chat.session.retries")
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// IncFallback counts one silent-success non-streaming fallback.
func (m *Metrics) IncFallback(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	counter, err := m.meter.Int64Counter("chat.session.fallbacks")
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
