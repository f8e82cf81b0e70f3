package pipeline

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem string

func (t testItem) ItemID() string { return string(t) }

func itemRange(from, to int) []WorkItem {
	items := make([]WorkItem, 0, to-from+1)
	for i := from; i <= to; i++ {
		items = append(items, testItem(fmt.Sprintf("clip-%d", i)))
	}
	return items
}

func TestNewCheckpointInvariants(t *testing.T) {
	jobID := uuid.New()

	cp, err := NewCheckpoint(jobID, StageDownloadItems, 10, []string{"clip-1", "clip-2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.CompletedCount())
	assert.Equal(t, 10, cp.TotalCount())

	_, err = NewCheckpoint(jobID, StageDownloadItems, 1, []string{"a", "b"}, nil)
	assert.Error(t, err, "completed IDs exceeding total must be rejected")

	_, err = NewCheckpoint(jobID, Stage("NOPE"), 1, nil, nil)
	assert.Error(t, err)
}

func TestCheckpointJSONRoundTrip(t *testing.T) {
	jobID := uuid.New()
	cp, err := NewCheckpoint(jobID, StageValidateItems, 3, []string{"clip-1", "clip-3"}, map[string]string{
		"audio_artifact": "s3://clips/abc/audio.wav",
	})
	require.NoError(t, err)

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var got Checkpoint
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, cp.JobID(), got.JobID())
	assert.Equal(t, cp.Stage(), got.Stage())
	assert.Equal(t, cp.CompletedIDs(), got.CompletedIDs())
	assert.Equal(t, cp.Metadata(), got.Metadata())
	assert.NoError(t, got.Validate())
}

func TestCheckpointValidate(t *testing.T) {
	jobID := uuid.New()

	corrupt := ReconstructCheckpoint(jobID, StageDownloadItems, 5, 10, []string{"clip-1"}, nil, time.Now())
	assert.Error(t, corrupt.Validate(), "count mismatch must be flagged")

	overrun := ReconstructCheckpoint(jobID, StageDownloadItems, 3, 2, []string{"a", "b", "c"}, nil, time.Now())
	assert.Error(t, overrun.Validate())
}

func TestCheckpointExpiry(t *testing.T) {
	cp := ReconstructCheckpoint(uuid.New(), StageDownloadItems, 0, 1, nil, nil,
		time.Now().UTC().Add(-37*time.Hour))

	assert.True(t, cp.ExpiredAt(time.Now().UTC(), 36*time.Hour))
	assert.False(t, cp.ExpiredAt(time.Now().UTC(), 48*time.Hour))
}

func TestRemainingItems(t *testing.T) {
	jobID := uuid.New()

	t.Run("nil_checkpoint_returns_all", func(t *testing.T) {
		items := itemRange(1, 5)
		assert.Equal(t, items, RemainingItems(nil, items))
	})

	t.Run("partial_progress", func(t *testing.T) {
		var done []string
		for i := 1; i <= 40; i++ {
			done = append(done, fmt.Sprintf("clip-%d", i))
		}
		cp, err := NewCheckpoint(jobID, StageDownloadItems, 50, done, nil)
		require.NoError(t, err)

		remaining := RemainingItems(cp, itemRange(1, 50))
		require.Len(t, remaining, 10)
		assert.Equal(t, "clip-41", remaining[0].ItemID())
		assert.Equal(t, "clip-50", remaining[9].ItemID())
	})

	t.Run("order_preserved", func(t *testing.T) {
		cp, err := NewCheckpoint(jobID, StageDownloadItems, 4, []string{"clip-2"}, nil)
		require.NoError(t, err)

		items := []WorkItem{testItem("clip-4"), testItem("clip-2"), testItem("clip-1"), testItem("clip-3")}
		remaining := RemainingItems(cp, items)
		require.Len(t, remaining, 3)
		assert.Equal(t, "clip-4", remaining[0].ItemID())
		assert.Equal(t, "clip-1", remaining[1].ItemID())
		assert.Equal(t, "clip-3", remaining[2].ItemID())
	})
}
