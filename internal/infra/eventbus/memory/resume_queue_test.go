package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

func TestResumeQueue_DeliversToSubscribers(t *testing.T) {
	queue := NewResumeQueue()

	var received []pipeline.ResumeCommand
	queue.Subscribe(func(_ context.Context, cmd pipeline.ResumeCommand) error {
		received = append(received, cmd)
		return nil
	})

	cmd := pipeline.ResumeCommand{
		JobID:        uuid.New(),
		Stage:        pipeline.StageDownloadItems,
		RemainingIDs: []string{"clip-7", "clip-8"},
		Attempt:      1,
		Timeout:      4 * time.Minute,
	}
	require.NoError(t, queue.Resubmit(context.Background(), cmd))

	require.Len(t, received, 1)
	assert.Equal(t, cmd.JobID, received[0].JobID)
	assert.Equal(t, []string{"clip-7", "clip-8"}, received[0].RemainingIDs)
	assert.Equal(t, received, queue.Commands())
}

func TestResumeQueue_HandlerErrorAbortsDelivery(t *testing.T) {
	queue := NewResumeQueue()

	handlerErr := errors.New("executor fleet unavailable")
	queue.Subscribe(func(context.Context, pipeline.ResumeCommand) error { return handlerErr })

	secondCalled := false
	queue.Subscribe(func(context.Context, pipeline.ResumeCommand) error {
		secondCalled = true
		return nil
	})

	err := queue.Resubmit(context.Background(), pipeline.ResumeCommand{JobID: uuid.New()})
	require.ErrorIs(t, err, handlerErr)
	assert.False(t, secondCalled)

	// The command is still recorded even when delivery fails.
	assert.Len(t, queue.Commands(), 1)
}

func TestResumeQueue_CommandsReturnsCopy(t *testing.T) {
	queue := NewResumeQueue()
	require.NoError(t, queue.Resubmit(context.Background(), pipeline.ResumeCommand{JobID: uuid.New()}))

	first := queue.Commands()
	first[0].Attempt = 99

	assert.Equal(t, 0, queue.Commands()[0].Attempt)
}
