package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics emits circuit-breaker events as OpenTelemetry instruments
// directly — no separate telemetry package sits between this code and
// the SDK, so a caller who never wires an OTel MeterProvider gets the
// SDK's safe no-op meter instead of a missing dependency.
type OTelMetrics struct {
	successes metric.Int64Counter
	failures  metric.Int64Counter
	rejected  metric.Int64Counter
	states    metric.Int64Counter
}

// NewOTelMetrics builds the instrument set under the meter named
// "browserpilot/resilience". Call AddStateChangeListener(m.observeStateChange)
// to wire it into a CircuitBreaker registry.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("browserpilot/resilience")

	successes, err := meter.Int64Counter("circuit_breaker.success",
		metric.WithDescription("Successful calls through a circuit breaker key"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("circuit_breaker.failure",
		metric.WithDescription("Failed calls through a circuit breaker key"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("circuit_breaker.rejected",
		metric.WithDescription("Calls rejected while a circuit breaker key was OPEN"))
	if err != nil {
		return nil, err
	}
	states, err := meter.Int64Counter("circuit_breaker.state_change",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{successes: successes, failures: failures, rejected: rejected, states: states}, nil
}

// RecordSuccess records a successful call for key.
func (m *OTelMetrics) RecordSuccess(ctx context.Context, key string) {
	m.successes.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// RecordFailure records a failed call for key.
func (m *OTelMetrics) RecordFailure(ctx context.Context, key string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// RecordRejection records a call rejected because key's breaker was OPEN.
func (m *OTelMetrics) RecordRejection(ctx context.Context, key string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// observeStateChange is a StateChangeListener suitable for
// CircuitBreaker.AddStateChangeListener.
func (m *OTelMetrics) observeStateChange(key string, from, to State) {
	m.states.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// Listener exposes observeStateChange for registration without forcing
// callers to reach into an unexported method.
func (m *OTelMetrics) Listener() StateChangeListener {
	return m.observeStateChange
}
