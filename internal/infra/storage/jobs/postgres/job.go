// Package postgres provides the durable job registry.
package postgres

import (
	"context"
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

var _ pipeline.JobRegistry = (*jobStore)(nil)

// ErrJobNotFound is returned when the requested job does not exist.
var ErrJobNotFound = pipeline.ErrJobNotFound

// jobStore is the PostgreSQL implementation of the job registry.
type jobStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job registry.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{pool: pool, tracer: tracer}
}

const jobColumns = `job_id, stage, status, item_count, media_duration_seconds, portrait,
	created_at, updated_at, recovery_attempts, failure_reason`

func scanJob(row pgx.Row) (*pipeline.Job, error) {
	var (
		jobID            uuid.UUID
		stage            string
		status           string
		itemCount        int
		mediaSeconds     float64
		portrait         bool
		createdAt        time.Time
		updatedAt        time.Time
		recoveryAttempts int
		failureReason    string
	)
	if err := row.Scan(
		&jobID, &stage, &status, &itemCount, &mediaSeconds, &portrait,
		&createdAt, &updatedAt, &recoveryAttempts, &failureReason,
	); err != nil {
		return nil, err
	}

	return pipeline.ReconstructJob(
		jobID,
		pipeline.Stage(stage),
		pipeline.JobStatus(status),
		pipeline.JobSize{ItemCount: itemCount, MediaDurationSeconds: mediaSeconds, Portrait: portrait},
		createdAt, updatedAt, recoveryAttempts, failureReason,
	), nil
}

// CreateJob inserts a new job record. It is used by the intake path, not the
// recovery core.
func (s *jobStore) CreateJob(ctx context.Context, job *pipeline.Job) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", job.JobID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_job", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			job.JobID(), job.Stage().String(), job.Status().String(),
			job.Size().ItemCount, job.Size().MediaDurationSeconds, job.Size().Portrait,
			job.CreatedAt(), job.UpdatedAt(), job.RecoveryAttempts(), job.FailureReason(),
		)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	})
}

// GetJob returns the current job record, or ErrJobNotFound.
func (s *jobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*pipeline.Job, error) {
	var job *pipeline.Job
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)

		var err error
		job, err = scanJob(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		return nil
	})
	return job, err
}

// ListStale returns IN_PROGRESS jobs whose updated_at is at or before the
// cutoff, oldest first.
func (s *jobStore) ListStale(ctx context.Context, cutoff time.Time) ([]*pipeline.Job, error) {
	var jobs []*pipeline.Job
	dbAttrs := append(defaultDBAttributes, attribute.String("cutoff", cutoff.Format(time.RFC3339)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_stale_jobs", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE status = $1 AND updated_at <= $2
			ORDER BY updated_at ASC`,
			pipeline.JobStatusInProgress.String(), cutoff,
		)
		if err != nil {
			return fmt.Errorf("failed to list stale jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("failed to scan stale job: %w", err)
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	return jobs, err
}

// UpdateStatus transitions the job's status after validating the transition
// against the current record. A FAILED transition records the reason.
func (s *jobStore) UpdateStatus(ctx context.Context, jobID uuid.UUID, status pipeline.JobStatus, reason string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("target_status", status.String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_job_status", dbAttrs, func(ctx context.Context) error {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !current.Status().CanTransitionTo(status) {
			return fmt.Errorf("invalid job status transition %s -> %s (job_id: %s)", current.Status(), status, jobID)
		}

		if status != pipeline.JobStatusFailed {
			reason = current.FailureReason()
		}
		_, err = s.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, failure_reason = $3, updated_at = now()
			WHERE job_id = $1`,
			jobID, status.String(), reason,
		)
		if err != nil {
			return fmt.Errorf("failed to update job status: %w", err)
		}
		return nil
	})
}

// Touch bumps the job's updated_at to now.
func (s *jobStore) Touch(ctx context.Context, jobID uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.touch_job", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs SET updated_at = now() WHERE job_id = $1`, jobID)
		if err != nil {
			return fmt.Errorf("failed to touch job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil
	})
}

// IncrementRecoveryAttempts adds one recovery attempt to the job and returns
// the new count.
func (s *jobStore) IncrementRecoveryAttempts(ctx context.Context, jobID uuid.UUID) (int, error) {
	var attempts int
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.increment_recovery_attempts", dbAttrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, `
			UPDATE jobs SET recovery_attempts = recovery_attempts + 1
			WHERE job_id = $1
			RETURNING recovery_attempts`, jobID,
		).Scan(&attempts)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return fmt.Errorf("failed to increment recovery attempts: %w", err)
		}
		return nil
	})
	return attempts, err
}
