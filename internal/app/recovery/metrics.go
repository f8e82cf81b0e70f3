package recovery

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics defines the metrics operations needed by orphan scanning and job
// recovery.
type Metrics interface {
	// IncRecoveryAttempted records one recovery attempt for a job.
	IncRecoveryAttempted(ctx context.Context)

	// IncRecoverySucceeded records a job successfully resubmitted.
	IncRecoverySucceeded(ctx context.Context)

	// IncRecoveryFailed records a recovery attempt that did not resubmit the
	// job, labeled with the failure class.
	IncRecoveryFailed(ctx context.Context, reason string)

	// ObserveOrphansFlagged records how many stalled jobs one scan found.
	ObserveOrphansFlagged(ctx context.Context, count int)
}

// recoveryMetrics implements Metrics using OpenTelemetry counters.
type recoveryMetrics struct {
	recoveriesAttempted metric.Int64Counter
	recoveriesSucceeded metric.Int64Counter
	recoveriesFailed    metric.Int64Counter
	orphansFlagged      metric.Int64Counter
}

var _ Metrics = (*recoveryMetrics)(nil)

const namespace = "recovery"

// NewMetrics creates a new recovery metrics instance.
func NewMetrics(mp metric.MeterProvider) (*recoveryMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(recoveryMetrics)
	var err error

	if m.recoveriesAttempted, err = meter.Int64Counter(
		"recoveries_attempted_total",
		metric.WithDescription("Total number of job recovery attempts"),
	); err != nil {
		return nil, err
	}

	if m.recoveriesSucceeded, err = meter.Int64Counter(
		"recoveries_succeeded_total",
		metric.WithDescription("Total number of jobs successfully resubmitted"),
	); err != nil {
		return nil, err
	}

	if m.recoveriesFailed, err = meter.Int64Counter(
		"recoveries_failed_total",
		metric.WithDescription("Total number of failed recovery attempts"),
	); err != nil {
		return nil, err
	}

	if m.orphansFlagged, err = meter.Int64Counter(
		"orphans_flagged_total",
		metric.WithDescription("Total number of stalled jobs flagged by the orphan scanner"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *recoveryMetrics) IncRecoveryAttempted(ctx context.Context) {
	m.recoveriesAttempted.Add(ctx, 1)
}

func (m *recoveryMetrics) IncRecoverySucceeded(ctx context.Context) {
	m.recoveriesSucceeded.Add(ctx, 1)
}

func (m *recoveryMetrics) IncRecoveryFailed(ctx context.Context, reason string) {
	m.recoveriesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *recoveryMetrics) ObserveOrphansFlagged(ctx context.Context, count int) {
	m.orphansFlagged.Add(ctx, int64(count))
}

// noopMetrics discards all measurements. Intended for tests.
type noopMetrics struct{}

var _ Metrics = noopMetrics{}

// NoopMetrics returns a Metrics implementation that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) IncRecoveryAttempted(context.Context) {}
func (noopMetrics) IncRecoverySucceeded(context.Context) {}
func (noopMetrics) IncRecoveryFailed(context.Context, string) {}
func (noopMetrics) ObserveOrphansFlagged(context.Context, int) {}
