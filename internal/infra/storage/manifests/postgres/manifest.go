// Package postgres provides the durable stage-manifest store.
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

var _ pipeline.ManifestStore = (*manifestStore)(nil)

// manifestStore is the PostgreSQL implementation of the stage-manifest store.
// Each row holds the full item batch one stage of one job operates on.
type manifestStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewManifestStore creates a PostgreSQL-backed stage-manifest store.
func NewManifestStore(pool *pgxpool.Pool, tracer trace.Tracer) *manifestStore {
	return &manifestStore{pool: pool, tracer: tracer}
}

// SaveItems records the item batch for the (job, stage) pair. It is called by
// the stage that produces the manifest, before the consuming stage starts.
func (s *manifestStore) SaveItems(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage, itemIDs []string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("stage", stage.String()),
		attribute.Int("item_count", len(itemIDs)),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_manifest", dbAttrs, func(ctx context.Context) error {
		idsBytes, err := json.Marshal(itemIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal manifest items: %w", err)
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO stage_manifests (job_id, stage, item_ids, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (job_id, stage) DO UPDATE SET
				item_ids = EXCLUDED.item_ids,
				created_at = EXCLUDED.created_at`,
			jobID, stage.String(), idsBytes, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save manifest for job %s: %w", jobID, err)
		}
		return nil
	})
}

// Items returns the full batch for the stage. A missing manifest surfaces as
// ErrPrerequisiteMissing so recovery fails the job instead of retrying
// forever.
func (s *manifestStore) Items(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) ([]pipeline.WorkItem, error) {
	var items []pipeline.WorkItem
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("stage", stage.String()),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_manifest", dbAttrs, func(ctx context.Context) error {
		var idsBytes []byte
		err := s.pool.QueryRow(ctx, `
			SELECT item_ids FROM stage_manifests
			WHERE job_id = $1 AND stage = $2`,
			jobID, stage.String(),
		).Scan(&idsBytes)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("manifest for job %s stage %s: %w", jobID, stage, pipeline.ErrPrerequisiteMissing)
		}
		if err != nil {
			return fmt.Errorf("failed to load manifest for job %s: %w", jobID, err)
		}

		var ids []string
		if err := json.Unmarshal(idsBytes, &ids); err != nil {
			return fmt.Errorf("failed to unmarshal manifest items for job %s: %w", jobID, err)
		}
		items = pipeline.ManifestItems(ids)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
