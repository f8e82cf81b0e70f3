package resilience

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics defines the metrics operations needed by the resilience
// primitives.
type Metrics interface {
	// IncCircuitOpen records a breaker transitioning to OPEN for the named
	// dependency.
	IncCircuitOpen(ctx context.Context, dependency string)

	// IncRetry records one backoff-and-retry for the named operation.
	IncRetry(ctx context.Context, operation string)
}

// resilienceMetrics implements Metrics using OpenTelemetry counters.
type resilienceMetrics struct {
	circuitOpenEvents metric.Int64Counter
	retries           metric.Int64Counter
}

var _ Metrics = (*resilienceMetrics)(nil)

const namespace = "resilience"

// NewMetrics creates a new resilience metrics instance.
func NewMetrics(mp metric.MeterProvider) (*resilienceMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(resilienceMetrics)
	var err error

	if m.circuitOpenEvents, err = meter.Int64Counter(
		"circuit_open_events_total",
		metric.WithDescription("Total number of circuit breaker open transitions"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter(
		"retries_total",
		metric.WithDescription("Total number of retried attempts"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *resilienceMetrics) IncCircuitOpen(ctx context.Context, dependency string) {
	m.circuitOpenEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("dependency", dependency)))
}

func (m *resilienceMetrics) IncRetry(ctx context.Context, operation string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// noopMetrics discards all measurements. Intended for tests.
type noopMetrics struct{}

var _ Metrics = noopMetrics{}

// NoopMetrics returns a Metrics implementation that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) IncCircuitOpen(context.Context, string) {}
func (noopMetrics) IncRetry(context.Context, string) {}
