package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/internal/infra/storage"
)

type testItem string

func (t testItem) ItemID() string { return string(t) }

func newCheckpoint(t *testing.T, jobID uuid.UUID, total int, done []string) *pipeline.Checkpoint {
	t.Helper()
	cp, err := pipeline.NewCheckpoint(jobID, pipeline.StageDownloadItems, total, done, nil)
	require.NoError(t, err)
	return cp
}

func TestSaveAndLoad(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())
	jobID := uuid.New()
	cp := newCheckpoint(t, jobID, 5, []string{"clip-1", "clip-2"})

	require.NoError(t, store.Save(context.Background(), cp))

	loaded, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.CompletedCount())
	assert.Equal(t, []string{"clip-1", "clip-2"}, loaded.CompletedIDs())
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())

	loaded, err := store.Load(context.Background(), uuid.New(), pipeline.StageDownloadItems)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveOverwrites(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())
	jobID := uuid.New()

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 5, []string{"clip-1"})))
	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 5, []string{"clip-1", "clip-2", "clip-3"})))

	loaded, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.CompletedCount())
}

func TestLoadExpiredReturnsNil(t *testing.T) {
	store := NewCheckpointStore(time.Hour, storage.NoopCheckpointMetrics())
	jobID := uuid.New()

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 5, []string{"clip-1"})))

	store.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	loaded, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	assert.Nil(t, loaded, "an expired checkpoint reads as absent")
}

func TestLoadExpiryKeepsConcurrentlySavedCheckpoint(t *testing.T) {
	store := NewCheckpointStore(time.Hour, storage.NoopCheckpointMetrics())
	jobID := uuid.New()

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 5, []string{"clip-1"})))

	// The clock hook fires after Load has read the stale snapshot but before
	// it evicts, so a save here lands exactly in the eviction window.
	replacement := newCheckpoint(t, jobID, 5, []string{"clip-1", "clip-2"})
	store.now = func() time.Time {
		require.NoError(t, store.Save(context.Background(), replacement))
		return time.Now().UTC().Add(2 * time.Hour)
	}

	loaded, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	assert.Nil(t, loaded, "the stale snapshot reads as absent")

	store.now = func() time.Time { return time.Now().UTC() }

	loaded, err = store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	require.NotNil(t, loaded, "a checkpoint saved during eviction must survive")
	assert.Equal(t, 2, loaded.CompletedCount())
}

func TestRemainingFiltersCompletedItems(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())
	jobID := uuid.New()

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 4, []string{"clip-1", "clip-3"})))

	items := []pipeline.WorkItem{testItem("clip-1"), testItem("clip-2"), testItem("clip-3"), testItem("clip-4")}
	remaining, err := store.Remaining(context.Background(), jobID, pipeline.StageDownloadItems, items)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.WorkItem{testItem("clip-2"), testItem("clip-4")}, remaining)
}

func TestRemainingWithoutCheckpointReturnsAll(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())

	items := []pipeline.WorkItem{testItem("clip-1"), testItem("clip-2")}
	remaining, err := store.Remaining(context.Background(), uuid.New(), pipeline.StageDownloadItems, items)
	require.NoError(t, err)
	assert.Equal(t, items, remaining)
}

func TestClear(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())
	jobID := uuid.New()

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 5, []string{"clip-1"})))
	require.NoError(t, store.Clear(context.Background(), jobID, pipeline.StageDownloadItems))

	loaded, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, store.Clear(context.Background(), jobID, pipeline.StageDownloadItems),
		"clearing an absent checkpoint is not an error")
}

type countingMetrics struct {
	saves, loads, clears int
}

var _ storage.CheckpointMetrics = (*countingMetrics)(nil)

func (m *countingMetrics) IncCheckpointSave(context.Context, string) { m.saves++ }
func (m *countingMetrics) IncCheckpointLoad(context.Context, string) { m.loads++ }
func (m *countingMetrics) IncCheckpointClear(context.Context, string) { m.clears++ }

func TestCheckpointOperationsAreCounted(t *testing.T) {
	metrics := new(countingMetrics)
	store := NewCheckpointStore(0, metrics)
	jobID := uuid.New()

	require.NoError(t, store.Save(context.Background(), newCheckpoint(t, jobID, 5, []string{"clip-1"})))

	_, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)

	require.NoError(t, store.Clear(context.Background(), jobID, pipeline.StageDownloadItems))

	assert.Equal(t, 1, metrics.saves)
	assert.Equal(t, 1, metrics.loads)
	assert.Equal(t, 1, metrics.clears)
}

func TestStagesAreIsolated(t *testing.T) {
	store := NewCheckpointStore(0, storage.NoopCheckpointMetrics())
	jobID := uuid.New()

	dl, err := pipeline.NewCheckpoint(jobID, pipeline.StageDownloadItems, 5, []string{"clip-1"}, nil)
	require.NoError(t, err)
	val, err := pipeline.NewCheckpoint(jobID, pipeline.StageValidateItems, 5, []string{"clip-1", "clip-2"}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), dl))
	require.NoError(t, store.Save(context.Background(), val))

	loaded, err := store.Load(context.Background(), jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.CompletedCount())

	loaded, err = store.Load(context.Background(), jobID, pipeline.StageValidateItems)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.CompletedCount())
}
