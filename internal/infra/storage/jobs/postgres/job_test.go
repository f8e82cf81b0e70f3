package postgres

import (
	"context"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/internal/infra/storage"
)

func setupJobTest(t *testing.T) (context.Context, *jobStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewJobStore(db, storage.NoOpTracer())
	ctx := context.Background()

	return ctx, store, cleanup
}

func createInProgressJob(ctx context.Context, t *testing.T, store *jobStore) *pipeline.Job {
	t.Helper()

	job := pipeline.NewJob(uuid.New(), pipeline.JobSize{ItemCount: 10, MediaDurationSeconds: 60})
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.UpdateStatus(ctx, job.JobID(), pipeline.JobStatusInProgress, ""))
	return job
}

func TestPGJobStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := pipeline.NewJob(uuid.New(), pipeline.JobSize{ItemCount: 12, MediaDurationSeconds: 95.5, Portrait: true})
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, job.JobID(), got.JobID())
	assert.Equal(t, pipeline.StageInit, got.Stage())
	assert.Equal(t, pipeline.JobStatusQueued, got.Status())
	assert.Equal(t, 12, got.Size().ItemCount)
	assert.InDelta(t, 95.5, got.Size().MediaDurationSeconds, 0.001)
	assert.True(t, got.Size().Portrait)
}

func TestPGJobStore_GetNotFound(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	_, err := store.GetJob(ctx, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPGJobStore_ListStale(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	stale := createInProgressJob(ctx, t, store)
	fresh := createInProgressJob(ctx, t, store)

	// Backdate one job past the staleness cutoff.
	_, err := store.pool.Exec(ctx, `
		UPDATE jobs SET updated_at = now() - interval '10 minutes' WHERE job_id = $1`,
		stale.JobID(),
	)
	require.NoError(t, err)

	listed, err := store.ListStale(ctx, time.Now().UTC().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, stale.JobID(), listed[0].JobID())
	assert.NotEqual(t, fresh.JobID(), listed[0].JobID())
}

func TestPGJobStore_UpdateStatusRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createInProgressJob(ctx, t, store)
	require.NoError(t, store.UpdateStatus(ctx, job.JobID(), pipeline.JobStatusCompleted, ""))

	err := store.UpdateStatus(ctx, job.JobID(), pipeline.JobStatusInProgress, "")
	require.Error(t, err, "COMPLETED is terminal")
}

func TestPGJobStore_FailRecordsReason(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createInProgressJob(ctx, t, store)
	require.NoError(t, store.UpdateStatus(ctx, job.JobID(), pipeline.JobStatusFailed, "prerequisites missing"))

	got, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, got.Status())
	assert.Equal(t, "prerequisites missing", got.FailureReason())
}

func TestPGJobStore_TouchAndIncrement(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupJobTest(t)
	defer cleanup()

	job := createInProgressJob(ctx, t, store)

	_, err := store.pool.Exec(ctx, `
		UPDATE jobs SET updated_at = now() - interval '10 minutes' WHERE job_id = $1`,
		job.JobID(),
	)
	require.NoError(t, err)

	require.NoError(t, store.Touch(ctx, job.JobID()))
	got, err := store.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), got.UpdatedAt(), time.Minute)

	attempts, err := store.IncrementRecoveryAttempts(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = store.IncrementRecoveryAttempts(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	assert.ErrorIs(t, store.Touch(ctx, uuid.New()), ErrJobNotFound)
}
