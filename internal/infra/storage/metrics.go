package storage

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CheckpointMetrics defines the metrics operations shared by the checkpoint
// store backends.
type CheckpointMetrics interface {
	// IncCheckpointSave records one checkpoint save for the stage.
	IncCheckpointSave(ctx context.Context, stage string)

	// IncCheckpointLoad records one checkpoint load for the stage.
	IncCheckpointLoad(ctx context.Context, stage string)

	// IncCheckpointClear records one checkpoint clear for the stage.
	IncCheckpointClear(ctx context.Context, stage string)
}

// checkpointMetrics implements CheckpointMetrics using OpenTelemetry
// counters.
type checkpointMetrics struct {
	saves  metric.Int64Counter
	loads  metric.Int64Counter
	clears metric.Int64Counter
}

var _ CheckpointMetrics = (*checkpointMetrics)(nil)

const namespace = "checkpoint_store"

// NewCheckpointMetrics creates a new checkpoint store metrics instance.
func NewCheckpointMetrics(mp metric.MeterProvider) (*checkpointMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(checkpointMetrics)
	var err error

	if m.saves, err = meter.Int64Counter(
		"checkpoint_saves_total",
		metric.WithDescription("Total number of checkpoint save operations"),
	); err != nil {
		return nil, err
	}

	if m.loads, err = meter.Int64Counter(
		"checkpoint_loads_total",
		metric.WithDescription("Total number of checkpoint load operations"),
	); err != nil {
		return nil, err
	}

	if m.clears, err = meter.Int64Counter(
		"checkpoint_clears_total",
		metric.WithDescription("Total number of checkpoint clear operations"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *checkpointMetrics) IncCheckpointSave(ctx context.Context, stage string) {
	m.saves.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *checkpointMetrics) IncCheckpointLoad(ctx context.Context, stage string) {
	m.loads.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *checkpointMetrics) IncCheckpointClear(ctx context.Context, stage string) {
	m.clears.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// noopCheckpointMetrics discards all measurements. Intended for tests.
type noopCheckpointMetrics struct{}

var _ CheckpointMetrics = noopCheckpointMetrics{}

// NoopCheckpointMetrics returns a CheckpointMetrics implementation that
// records nothing.
func NoopCheckpointMetrics() CheckpointMetrics { return noopCheckpointMetrics{} }

func (noopCheckpointMetrics) IncCheckpointSave(context.Context, string) {}
func (noopCheckpointMetrics) IncCheckpointLoad(context.Context, string) {}
func (noopCheckpointMetrics) IncCheckpointClear(context.Context, string) {}
