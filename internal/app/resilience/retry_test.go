package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

func newTestRetryPolicy(opts ...RetryOption) (*RetryPolicy, *[]time.Duration) {
	p := NewRetryPolicy(NoopMetrics(), noop.NewTracerProvider().Tracer("test"), logger.Noop(), opts...)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p, slept := newTestRetryPolicy()

	attempts := 0
	err := p.Do(context.Background(), "fetch_candidates", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return pipeline.NewTransientError(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *slept, 2)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	p, slept := newTestRetryPolicy(WithMaxAttempts(3))

	attempts := 0
	last := errors.New("still down")
	err := p.Do(context.Background(), "download_clip", func(context.Context) error {
		attempts++
		return last
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *slept, 2, "no sleep after the final attempt")
}

func TestRetryDoesNotRetryCircuitOpen(t *testing.T) {
	p, slept := newTestRetryPolicy()

	attempts := 0
	err := p.Do(context.Background(), "download_clip", func(context.Context) error {
		attempts++
		return &pipeline.CircuitOpenError{Dependency: "clip-downloader", RetryAfter: 30 * time.Second}
	})

	require.True(t, pipeline.IsCircuitOpen(err))
	assert.Equal(t, 1, attempts, "an open circuit must fail fast, not burn the retry budget")
	assert.Empty(t, *slept)
}

func TestRetryDoesNotRetryPermanent(t *testing.T) {
	p, slept := newTestRetryPolicy()

	attempts := 0
	err := p.Do(context.Background(), "analyze_audio", func(context.Context) error {
		attempts++
		return pipeline.NewPermanentError("unsupported codec", nil)
	})

	require.True(t, pipeline.IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestRetryBackoffMonotonicAndCapped(t *testing.T) {
	p, _ := newTestRetryPolicy(
		WithMaxAttempts(10),
		WithBaseDelay(2*time.Second),
		WithMaxDelay(60*time.Second),
	)

	var prev time.Duration
	for attempt := 0; attempt < 10; attempt++ {
		d := p.baseDelayFor(attempt)
		assert.GreaterOrEqual(t, d, prev, "jitter-free delays must be non-decreasing")
		assert.LessOrEqual(t, d, 60*time.Second)
		prev = d
	}

	assert.Equal(t, 2*time.Second, p.baseDelayFor(0))
	assert.Equal(t, 4*time.Second, p.baseDelayFor(1))
	assert.Equal(t, 32*time.Second, p.baseDelayFor(4))
	assert.Equal(t, 60*time.Second, p.baseDelayFor(5), "2^5*2s=64s exceeds the cap")
}

func TestRetryJitterWithinWindow(t *testing.T) {
	p, _ := newTestRetryPolicy(WithBaseDelay(2 * time.Second))

	for i := 0; i < 100; i++ {
		d := p.delayFor(0)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2*time.Second+200*time.Millisecond, "jitter window is base/10")
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := NewRetryPolicy(NoopMetrics(), noop.NewTracerProvider().Tracer("test"), logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := p.Do(ctx, "download_clip", func(context.Context) error {
		return pipeline.NewTransientError(errors.New("timeout"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
