// Package resilience contains the failure-isolation primitives wrapped
// around every outbound call to an unreliable dependency: per-dependency
// circuit breakers, retry with backoff, and per-job timeout budgets.
package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

type timeProvider interface {
	Now() time.Time
}

// realTimeProvider is a real implementation of the timeProvider interface.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// BreakerState identifies a circuit breaker's position in its state machine.
type BreakerState string

const (
	// BreakerClosed means calls pass through and failures are counted.
	BreakerClosed BreakerState = "CLOSED"

	// BreakerOpen means calls fail immediately without any IO.
	BreakerOpen BreakerState = "OPEN"

	// BreakerHalfOpen means exactly one trial call is allowed through.
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// breaker holds the soft state for one named dependency. It is mutated only
// under its own mutex so unrelated dependencies never contend.
type breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 60 * time.Second
)

// CircuitBreakerRegistry maintains one breaker per named dependency and
// applies the CLOSED/OPEN/HALF_OPEN state machine around protected calls.
// State is process-local and rebuilt empty on restart.
type CircuitBreakerRegistry struct {
	failureThreshold int
	cooldown         time.Duration

	mu       sync.RWMutex
	breakers map[string]*breaker

	timeProvider timeProvider

	metrics Metrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// BreakerOption configures a CircuitBreakerRegistry.
type BreakerOption func(*CircuitBreakerRegistry)

// WithFailureThreshold overrides the consecutive-failure count that opens a
// breaker.
func WithFailureThreshold(n int) BreakerOption {
	return func(r *CircuitBreakerRegistry) { r.failureThreshold = n }
}

// WithCooldown overrides how long a breaker stays open before permitting a
// trial call.
func WithCooldown(d time.Duration) BreakerOption {
	return func(r *CircuitBreakerRegistry) { r.cooldown = d }
}

// NewCircuitBreakerRegistry creates a registry with the default threshold
// (5 consecutive failures) and cooldown (60s).
func NewCircuitBreakerRegistry(
	metrics Metrics,
	tracer trace.Tracer,
	logger *logger.Logger,
	opts ...BreakerOption,
) *CircuitBreakerRegistry {
	logger = logger.With("component", "circuit_breaker")
	r := &CircuitBreakerRegistry{
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
		breakers:         make(map[string]*breaker),
		timeProvider:     realTimeProvider{},
		metrics:          metrics,
		tracer:           tracer,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Call executes fn under the breaker registered for name. When the breaker
// is open the call fails immediately with a CircuitOpenError and fn is never
// invoked. Permanent domain failures do not count against the breaker: the
// dependency answered, the request was just bad.
func (r *CircuitBreakerRegistry) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := r.breakerFor(name)

	if err := r.admit(ctx, name, b); err != nil {
		return err
	}

	err := fn(ctx)
	r.record(ctx, name, b, err)
	return err
}

// State returns the named breaker's current state, resolving an elapsed
// cooldown to HALF_OPEN. Unknown names report CLOSED: a dependency that has
// never failed has a closed breaker by definition.
func (r *CircuitBreakerRegistry) State(name string) BreakerState {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return BreakerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && r.timeProvider.Now().Sub(b.openedAt) >= r.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (r *CircuitBreakerRegistry) breakerFor(name string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = &breaker{state: BreakerClosed}
	r.breakers[name] = b
	return b
}

// admit decides whether a call may proceed. It transitions OPEN breakers to
// HALF_OPEN once the cooldown has elapsed and admits exactly one trial call
// in HALF_OPEN.
func (r *CircuitBreakerRegistry) admit(ctx context.Context, name string, b *breaker) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		elapsed := r.timeProvider.Now().Sub(b.openedAt)
		if elapsed < r.cooldown {
			return &pipeline.CircuitOpenError{Dependency: name, RetryAfter: r.cooldown - elapsed}
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		r.logger.Info(ctx, "Circuit breaker half-open, admitting trial call", "dependency", name)
		return nil

	case BreakerHalfOpen:
		if b.trialInFlight {
			return &pipeline.CircuitOpenError{Dependency: name, RetryAfter: r.cooldown}
		}
		b.trialInFlight = true
		return nil

	default:
		return nil
	}
}

// record maps the call outcome to a state transition.
func (r *CircuitBreakerRegistry) record(ctx context.Context, name string, b *breaker, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasTrial := b.state == BreakerHalfOpen
	if wasTrial {
		b.trialInFlight = false
	}

	if err == nil || pipeline.IsPermanent(err) {
		b.consecutiveFailures = 0
		if b.state != BreakerClosed {
			b.state = BreakerClosed
			r.logger.Info(ctx, "Circuit breaker closed", "dependency", name)
		}
		return
	}

	if wasTrial {
		// Trial failed: reopen with a fresh cooldown window.
		b.state = BreakerOpen
		b.openedAt = r.timeProvider.Now()
		r.metrics.IncCircuitOpen(ctx, name)
		r.logger.Warn(ctx, "Circuit breaker reopened after failed trial", "dependency", name, "err", err)
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= r.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = r.timeProvider.Now()
		r.metrics.IncCircuitOpen(ctx, name)

		span := trace.SpanFromContext(ctx)
		span.AddEvent("circuit_breaker_opened", trace.WithAttributes(
			attribute.String("dependency", name),
			attribute.Int("consecutive_failures", b.consecutiveFailures),
		))
		span.SetStatus(codes.Error, "circuit breaker opened")

		r.logger.Warn(ctx, "Circuit breaker opened",
			"dependency", name,
			"consecutive_failures", b.consecutiveFailures,
			"cooldown", r.cooldown,
		)
	}
}
