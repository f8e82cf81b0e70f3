package resilience

import (
	"context"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

// resumeQueueBreaker names the circuit guarding the resume queue broker.
const resumeQueueBreaker = "resume_queue"

var _ pipeline.JobResubmitter = (*retryingResubmitter)(nil)

// retryingResubmitter wraps a JobResubmitter with the retry policy and the
// resume-queue circuit breaker, so a transient broker blip does not cost a
// whole scan cycle and a dead broker stops being hammered. The retry wraps
// the breaker: an open circuit fails the retry loop fast instead of burning
// the attempt budget.
type retryingResubmitter struct {
	inner    pipeline.JobResubmitter
	policy   *RetryPolicy
	breakers *CircuitBreakerRegistry
}

// NewRetryingResubmitter decorates inner with retries for transient publish
// failures and routes each attempt through the resume-queue breaker.
func NewRetryingResubmitter(inner pipeline.JobResubmitter, policy *RetryPolicy, breakers *CircuitBreakerRegistry) *retryingResubmitter {
	return &retryingResubmitter{inner: inner, policy: policy, breakers: breakers}
}

func (r *retryingResubmitter) Resubmit(ctx context.Context, cmd pipeline.ResumeCommand) error {
	return r.policy.Do(ctx, "resume_queue.resubmit", func(ctx context.Context) error {
		return r.breakers.Call(ctx, resumeQueueBreaker, func(ctx context.Context) error {
			return r.inner.Resubmit(ctx, cmd)
		})
	})
}
