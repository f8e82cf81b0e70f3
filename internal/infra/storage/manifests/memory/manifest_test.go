package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

func TestManifestStore_SaveAndLoad(t *testing.T) {
	store := NewManifestStore()
	ctx := context.Background()
	jobID := uuid.New()

	err := store.SaveItems(ctx, jobID, pipeline.StageDownloadItems, []string{"clip-1", "clip-2", "clip-3"})
	require.NoError(t, err)

	items, err := store.Items(ctx, jobID, pipeline.StageDownloadItems)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "clip-1", items[0].ItemID())
	assert.Equal(t, "clip-3", items[2].ItemID())
}

func TestManifestStore_MissingIsPrerequisiteError(t *testing.T) {
	store := NewManifestStore()

	_, err := store.Items(context.Background(), uuid.New(), pipeline.StageBuildOutput)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrPrerequisiteMissing)
}

func TestManifestStore_StagesAreIsolated(t *testing.T) {
	store := NewManifestStore()
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, store.SaveItems(ctx, jobID, pipeline.StageDownloadItems, []string{"clip-1"}))

	_, err := store.Items(ctx, jobID, pipeline.StageValidateItems)
	assert.ErrorIs(t, err, pipeline.ErrPrerequisiteMissing)
}
