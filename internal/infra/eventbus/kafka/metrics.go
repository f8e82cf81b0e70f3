package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// queueMetrics implements QueueMetrics using OpenTelemetry counters.
type queueMetrics struct {
	resumesPublished metric.Int64Counter
}

var _ QueueMetrics = (*queueMetrics)(nil)

const namespace = "resume_queue"

// NewMetrics creates a new resume-queue metrics instance.
func NewMetrics(mp metric.MeterProvider) (*queueMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(queueMetrics)
	var err error

	if m.resumesPublished, err = meter.Int64Counter(
		"resume_events_published_total",
		metric.WithDescription("Total number of resume events published to the queue"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) IncResumePublished(ctx context.Context, stage string) {
	m.resumesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// noopMetrics discards all measurements. Intended for tests.
type noopMetrics struct{}

var _ QueueMetrics = noopMetrics{}

// NoopMetrics returns a QueueMetrics implementation that records nothing.
func NoopMetrics() QueueMetrics { return noopMetrics{} }

func (noopMetrics) IncResumePublished(context.Context, string) {}
