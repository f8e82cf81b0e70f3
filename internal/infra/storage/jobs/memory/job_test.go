package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

func seedInProgressJob(t *testing.T, store *JobStore) *pipeline.Job {
	t.Helper()

	job := pipeline.NewJob(uuid.New(), pipeline.JobSize{ItemCount: 10, MediaDurationSeconds: 60})
	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, store.UpdateStatus(context.Background(), job.JobID(), pipeline.JobStatusInProgress, ""))
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	store := NewJobStore()
	job := pipeline.NewJob(uuid.New(), pipeline.JobSize{ItemCount: 5, MediaDurationSeconds: 30, Portrait: true})

	require.NoError(t, store.CreateJob(context.Background(), job))

	got, err := store.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, job.JobID(), got.JobID())
	assert.Equal(t, pipeline.StageInit, got.Stage())
	assert.Equal(t, pipeline.JobStatusQueued, got.Status())
	assert.True(t, got.Size().Portrait)
}

func TestGetJobNotFound(t *testing.T) {
	store := NewJobStore()

	_, err := store.GetJob(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCreateJobDuplicate(t *testing.T) {
	store := NewJobStore()
	job := pipeline.NewJob(uuid.New(), pipeline.JobSize{ItemCount: 1})

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.Error(t, store.CreateJob(context.Background(), job))
}

func TestListStaleBoundary(t *testing.T) {
	store := NewJobStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	fresh := seedInProgressJob(t, store)
	boundary := seedInProgressJob(t, store)
	stale := seedInProgressJob(t, store)

	cutoff := now.Add(-5 * time.Minute)
	store.SetUpdatedAt(fresh.JobID(), now.Add(-4*time.Minute-59*time.Second))
	store.SetUpdatedAt(boundary.JobID(), cutoff)
	store.SetUpdatedAt(stale.JobID(), now.Add(-5*time.Minute-1*time.Second))

	listed, err := store.ListStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, stale.JobID(), listed[0].JobID(), "oldest first")
	assert.Equal(t, boundary.JobID(), listed[1].JobID(), "updated_at equal to the cutoff counts as stale")
}

func TestListStaleIgnoresOtherStatuses(t *testing.T) {
	store := NewJobStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	queued := pipeline.NewJob(uuid.New(), pipeline.JobSize{ItemCount: 1})
	require.NoError(t, store.CreateJob(context.Background(), queued))
	store.SetUpdatedAt(queued.JobID(), now.Add(-time.Hour))

	done := seedInProgressJob(t, store)
	require.NoError(t, store.UpdateStatus(context.Background(), done.JobID(), pipeline.JobStatusCompleted, ""))
	store.SetUpdatedAt(done.JobID(), now.Add(-time.Hour))

	listed, err := store.ListStale(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, listed, "only IN_PROGRESS jobs can be orphans")
}

func TestUpdateStatusValidatesTransition(t *testing.T) {
	store := NewJobStore()
	job := seedInProgressJob(t, store)

	require.NoError(t, store.UpdateStatus(context.Background(), job.JobID(), pipeline.JobStatusCompleted, ""))

	err := store.UpdateStatus(context.Background(), job.JobID(), pipeline.JobStatusInProgress, "")
	require.Error(t, err, "COMPLETED is terminal")
}

func TestUpdateStatusFailedRecordsReason(t *testing.T) {
	store := NewJobStore()
	job := seedInProgressJob(t, store)

	require.NoError(t, store.UpdateStatus(context.Background(), job.JobID(), pipeline.JobStatusFailed, "recovery abandoned after 3 attempts"))

	got, err := store.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, got.Status())
	assert.Equal(t, "recovery abandoned after 3 attempts", got.FailureReason())
}

func TestTouchBumpsUpdatedAt(t *testing.T) {
	store := NewJobStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	job := seedInProgressJob(t, store)
	store.SetUpdatedAt(job.JobID(), now.Add(-time.Hour))

	require.NoError(t, store.Touch(context.Background(), job.JobID()))

	got, err := store.GetJob(context.Background(), job.JobID())
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt())
}

func TestIncrementRecoveryAttempts(t *testing.T) {
	store := NewJobStore()
	job := seedInProgressJob(t, store)

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementRecoveryAttempts(context.Background(), job.JobID())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := store.IncrementRecoveryAttempts(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}
