package resilience

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

type mockResubmitter struct {
	calls int
	fn    func(ctx context.Context, cmd pipeline.ResumeCommand) error
}

func (m *mockResubmitter) Resubmit(ctx context.Context, cmd pipeline.ResumeCommand) error {
	m.calls++
	return m.fn(ctx, cmd)
}

func TestResubmitterPassesCommandThrough(t *testing.T) {
	policy, _ := newTestRetryPolicy()
	registry, _ := newTestRegistry()

	var got pipeline.ResumeCommand
	inner := &mockResubmitter{fn: func(_ context.Context, cmd pipeline.ResumeCommand) error {
		got = cmd
		return nil
	}}
	r := NewRetryingResubmitter(inner, policy, registry)

	cmd := pipeline.ResumeCommand{
		JobID:        uuid.New(),
		Stage:        pipeline.StageDownloadItems,
		RemainingIDs: []string{"clip-3", "clip-4"},
		Attempt:      1,
		Timeout:      2 * time.Minute,
	}
	require.NoError(t, r.Resubmit(context.Background(), cmd))

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, cmd, got)
}

func TestResubmitterRetriesTransientPublishFailures(t *testing.T) {
	policy, slept := newTestRetryPolicy()
	registry, _ := newTestRegistry()

	inner := &mockResubmitter{}
	inner.fn = func(context.Context, pipeline.ResumeCommand) error {
		if inner.calls < 3 {
			return pipeline.NewTransientError(errors.New("broker unavailable"))
		}
		return nil
	}
	r := NewRetryingResubmitter(inner, policy, registry)

	require.NoError(t, r.Resubmit(context.Background(), pipeline.ResumeCommand{JobID: uuid.New(), Stage: pipeline.StageDownloadItems}))

	assert.Equal(t, 3, inner.calls)
	assert.Len(t, *slept, 2)
	assert.Equal(t, BreakerClosed, registry.State(resumeQueueBreaker), "a recovered publish must leave the breaker closed")
}

func TestResubmitterFailsFastOnceBreakerOpens(t *testing.T) {
	policy, _ := newTestRetryPolicy(WithMaxAttempts(5))
	registry, _ := newTestRegistry()

	inner := &mockResubmitter{fn: func(context.Context, pipeline.ResumeCommand) error {
		return errBoom
	}}
	r := NewRetryingResubmitter(inner, policy, registry)

	cmd := pipeline.ResumeCommand{JobID: uuid.New(), Stage: pipeline.StageDownloadItems}

	// The first resubmit burns its whole retry budget; the 5th consecutive
	// publish failure opens the resume-queue breaker.
	err := r.Resubmit(context.Background(), cmd)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 5, inner.calls)
	require.Equal(t, BreakerOpen, registry.State(resumeQueueBreaker))

	// With the breaker open the next resubmit must fail fast without a
	// single publish attempt.
	err = r.Resubmit(context.Background(), cmd)
	require.True(t, pipeline.IsCircuitOpen(err))
	assert.Equal(t, 5, inner.calls, "an open circuit must not reach the broker")
}
