// Package redis provides a low-latency checkpoint store for deployments that
// prefer TTL-native storage over postgres rows.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "redis")}

// DefaultCheckpointTTL matches the postgres store's retention window.
const DefaultCheckpointTTL = 36 * time.Hour

var _ pipeline.CheckpointStore = (*checkpointStore)(nil)

// checkpointStore keeps one JSON value per (job, stage) pair. Expiry is
// delegated to redis key TTLs, so an expired checkpoint simply reads as
// absent.
type checkpointStore struct {
	client  *redis.Client
	ttl     time.Duration
	metrics storage.CheckpointMetrics
	tracer  trace.Tracer
}

// NewCheckpointStore creates a redis-backed checkpoint store. A non-positive
// ttl falls back to DefaultCheckpointTTL.
func NewCheckpointStore(client *redis.Client, ttl time.Duration, metrics storage.CheckpointMetrics, tracer trace.Tracer) *checkpointStore {
	if ttl <= 0 {
		ttl = DefaultCheckpointTTL
	}
	return &checkpointStore{client: client, ttl: ttl, metrics: metrics, tracer: tracer}
}

func checkpointKey(jobID uuid.UUID, stage pipeline.Stage) string {
	return fmt.Sprintf("checkpoint:%s:%s", jobID, stage)
}

// Save overwrites the checkpoint value and refreshes its TTL.
func (s *checkpointStore) Save(ctx context.Context, cp *pipeline.Checkpoint) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", cp.JobID().String()),
		attribute.String("stage", cp.Stage().String()),
		attribute.Int("completed_count", cp.CompletedCount()),
	)
	s.metrics.IncCheckpointSave(ctx, cp.Stage().String())
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.save_checkpoint", dbAttrs, func(ctx context.Context) error {
		payload, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		if err := s.client.Set(ctx, checkpointKey(cp.JobID(), cp.Stage()), payload, s.ttl).Err(); err != nil {
			return pipeline.NewStoreUnavailableError("save", err)
		}
		return nil
	})
}

// Load returns the live checkpoint for the (job, stage) pair, nil when the
// key is absent or expired, and CheckpointCorruptError for undecodable
// values.
func (s *checkpointStore) Load(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) (*pipeline.Checkpoint, error) {
	var checkpoint *pipeline.Checkpoint
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("stage", stage.String()),
	)
	s.metrics.IncCheckpointLoad(ctx, stage.String())
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.load_checkpoint", dbAttrs, func(ctx context.Context) error {
		payload, err := s.client.Get(ctx, checkpointKey(jobID, stage)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return pipeline.NewStoreUnavailableError("load", err)
		}

		cp := new(pipeline.Checkpoint)
		if err := json.Unmarshal(payload, cp); err != nil {
			return pipeline.NewCheckpointCorruptError(jobID, stage, err)
		}
		if err := cp.Validate(); err != nil {
			return pipeline.NewCheckpointCorruptError(jobID, stage, err)
		}

		checkpoint = cp
		return nil
	})
	return checkpoint, err
}

// Remaining loads the checkpoint and filters the batch down to the items not
// yet completed, preserving input order.
func (s *checkpointStore) Remaining(
	ctx context.Context,
	jobID uuid.UUID,
	stage pipeline.Stage,
	items []pipeline.WorkItem,
) ([]pipeline.WorkItem, error) {
	cp, err := s.Load(ctx, jobID, stage)
	if err != nil {
		return nil, err
	}
	return pipeline.RemainingItems(cp, items), nil
}

// Clear deletes the checkpoint key. Clearing an absent key is not an error.
func (s *checkpointStore) Clear(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("stage", stage.String()),
	)
	s.metrics.IncCheckpointClear(ctx, stage.String())
	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.clear_checkpoint", dbAttrs, func(ctx context.Context) error {
		if err := s.client.Del(ctx, checkpointKey(jobID, stage)).Err(); err != nil {
			return pipeline.NewStoreUnavailableError("clear", err)
		}
		return nil
	})
}
