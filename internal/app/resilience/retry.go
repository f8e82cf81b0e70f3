package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 60 * time.Second
)

// RetryPolicy retries transient failures with exponential backoff and a
// small uniform jitter. It composes with the circuit breaker: a
// CircuitOpenError is never retried and propagates immediately so callers
// do not burn a retry budget hammering a known-down dependency. Permanent
// failures are likewise returned as-is.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	// sleep is the suspend point between attempts. Overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand

	metrics Metrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// RetryOption configures a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) RetryOption {
	return func(p *RetryPolicy) { p.maxAttempts = n }
}

// WithBaseDelay overrides the first backoff delay.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.baseDelay = d }
}

// WithMaxDelay overrides the backoff cap.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.maxDelay = d }
}

// NewRetryPolicy creates a policy with the defaults: 5 attempts, 2s base
// delay, 60s cap.
func NewRetryPolicy(metrics Metrics, tracer trace.Tracer, logger *logger.Logger, opts ...RetryOption) *RetryPolicy {
	logger = logger.With("component", "retry_policy")
	p := &RetryPolicy{
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger,
	}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do executes fn up to the attempt budget, backing off between failures.
// The last error is returned after exhaustion.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "retry_policy.do",
		trace.WithAttributes(
			attribute.String("operation", op),
			attribute.Int("max_attempts", p.maxAttempts),
		),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			span.AddEvent("attempt_succeeded", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return nil
		}

		// Fail fast: an open breaker means the dependency is known-down,
		// and a permanent failure will not improve with repetition.
		if pipeline.IsCircuitOpen(lastErr) || pipeline.IsPermanent(lastErr) {
			span.AddEvent("retry_aborted", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return lastErr
		}

		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.delayFor(attempt)
		p.metrics.IncRetry(ctx, op)
		p.logger.Debug(ctx, "Retrying after backoff",
			"operation", op,
			"attempt", attempt+1,
			"delay", delay,
			"err", lastErr,
		)
		span.AddEvent("backing_off", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("delay", delay.String()),
		))

		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry interrupted for %s: %w", op, err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.maxAttempts, lastErr)
}

// delayFor computes the sleep before the attempt following `attempt`
// (0-based): min(base * 2^attempt + jitter, max) where jitter is uniform in
// [0, base/10).
func (p *RetryPolicy) delayFor(attempt int) time.Duration {
	backoff := p.baseDelay << uint(attempt)
	if backoff <= 0 || backoff > p.maxDelay {
		// Shift overflow or past the cap either way.
		backoff = p.maxDelay
	}

	jitterWindow := p.baseDelay / 10
	var jitter time.Duration
	if jitterWindow > 0 {
		p.rngMu.Lock()
		jitter = time.Duration(p.rng.Int63n(int64(jitterWindow)))
		p.rngMu.Unlock()
	}

	delay := backoff + jitter
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// baseDelayFor returns the jitter-free backoff for an attempt. Split out so
// the monotonicity property is testable without randomness.
func (p *RetryPolicy) baseDelayFor(attempt int) time.Duration {
	backoff := p.baseDelay << uint(attempt)
	if backoff <= 0 || backoff > p.maxDelay {
		backoff = p.maxDelay
	}
	return backoff
}
