// Package postgres provides the durable checkpoint store backing stage
// resumption.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

// DefaultCheckpointTTL is how long a saved checkpoint stays resumable.
// Anything older refers to work the executors have likely re-run already.
const DefaultCheckpointTTL = 36 * time.Hour

var _ pipeline.CheckpointStore = (*checkpointStore)(nil)

// checkpointStore is the PostgreSQL implementation of the checkpoint store.
// Rows are keyed by (job_id, stage) and each save overwrites the previous
// snapshot, so concurrent writers resolve to last-write-wins.
type checkpointStore struct {
	pool    *pgxpool.Pool
	ttl     time.Duration
	metrics storage.CheckpointMetrics
	tracer  trace.Tracer
}

// NewCheckpointStore creates a PostgreSQL-backed checkpoint store. A
// non-positive ttl falls back to DefaultCheckpointTTL.
func NewCheckpointStore(pool *pgxpool.Pool, ttl time.Duration, metrics storage.CheckpointMetrics, tracer trace.Tracer) *checkpointStore {
	if ttl <= 0 {
		ttl = DefaultCheckpointTTL
	}
	return &checkpointStore{pool: pool, ttl: ttl, metrics: metrics, tracer: tracer}
}

// Save upserts the checkpoint row for the checkpoint's (job, stage) pair and
// refreshes its expiry. Unreachable storage surfaces as StoreUnavailableError
// so callers can proceed without checkpointing.
func (s *checkpointStore) Save(ctx context.Context, cp *pipeline.Checkpoint) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", cp.JobID().String()),
		attribute.String("stage", cp.Stage().String()),
		attribute.Int("completed_count", cp.CompletedCount()),
	)
	s.metrics.IncCheckpointSave(ctx, cp.Stage().String())
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_checkpoint", dbAttrs, func(ctx context.Context) error {
		idsBytes, err := json.Marshal(cp.CompletedIDs())
		if err != nil {
			return fmt.Errorf("failed to marshal completed IDs: %w", err)
		}
		metaBytes, err := json.Marshal(cp.Metadata())
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
		}

		now := time.Now().UTC()
		_, err = s.pool.Exec(ctx, `
			INSERT INTO stage_checkpoints (
				job_id, stage, completed_count, total_count,
				completed_ids, metadata, last_updated, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_id, stage) DO UPDATE SET
				completed_count = EXCLUDED.completed_count,
				total_count = EXCLUDED.total_count,
				completed_ids = EXCLUDED.completed_ids,
				metadata = EXCLUDED.metadata,
				last_updated = EXCLUDED.last_updated,
				expires_at = EXCLUDED.expires_at`,
			cp.JobID(), cp.Stage().String(), cp.CompletedCount(), cp.TotalCount(),
			idsBytes, metaBytes, now, now.Add(s.ttl),
		)
		if err != nil {
			return pipeline.NewStoreUnavailableError("save", err)
		}
		return nil
	})
}

// Load returns the live checkpoint for the (job, stage) pair, nil when none
// exists or the record has expired, and CheckpointCorruptError when the
// stored record fails validation.
func (s *checkpointStore) Load(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) (*pipeline.Checkpoint, error) {
	var checkpoint *pipeline.Checkpoint
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("stage", stage.String()),
	)
	s.metrics.IncCheckpointLoad(ctx, stage.String())
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_checkpoint", dbAttrs, func(ctx context.Context) error {
		var (
			completedCount int
			totalCount     int
			idsBytes       []byte
			metaBytes      []byte
			lastUpdated    time.Time
		)
		err := s.pool.QueryRow(ctx, `
			SELECT completed_count, total_count, completed_ids, metadata, last_updated
			FROM stage_checkpoints
			WHERE job_id = $1 AND stage = $2 AND expires_at > now()`,
			jobID, stage.String(),
		).Scan(&completedCount, &totalCount, &idsBytes, &metaBytes, &lastUpdated)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return pipeline.NewStoreUnavailableError("load", err)
		}

		var completedIDs []string
		if err := json.Unmarshal(idsBytes, &completedIDs); err != nil {
			return pipeline.NewCheckpointCorruptError(jobID, stage, err)
		}
		var metadata map[string]string
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &metadata); err != nil {
				return pipeline.NewCheckpointCorruptError(jobID, stage, err)
			}
		}

		cp := pipeline.ReconstructCheckpoint(jobID, stage, completedCount, totalCount, completedIDs, metadata, lastUpdated)
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

// Clear removes the checkpoint for the (job, stage) pair. Clearing an absent
// checkpoint is not an error.
func (s *checkpointStore) Clear(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("stage", stage.String()),
	)
	s.metrics.IncCheckpointClear(ctx, stage.String())
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.clear_checkpoint", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM stage_checkpoints WHERE job_id = $1 AND stage = $2`,
			jobID, stage.String(),
		)
		if err != nil {
			return pipeline.NewStoreUnavailableError("clear", err)
		}
		return nil
	})
}
