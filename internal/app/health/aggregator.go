// Package health aggregates dependency probes into a single verdict for the
// pipeline's health endpoints.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/clipforge/internal/app/resilience"
	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

const defaultProbeTimeout = 5 * time.Second

// Aggregator fans out to every registered dependency probe and folds the
// results into one AggregateHealth. Required probes gate readiness; optional
// probes only degrade it.
type Aggregator struct {
	mu       sync.RWMutex
	required []pipeline.DependencyProbe
	optional []pipeline.DependencyProbe

	// probeTimeout bounds each individual probe so one hung dependency cannot
	// stall the whole endpoint.
	probeTimeout time.Duration

	// breakers, when set, short-circuits probes whose dependency breaker is
	// open instead of hitting the dependency again.
	breakers *resilience.CircuitBreakerRegistry

	tracer trace.Tracer
	logger *logger.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.probeTimeout = d }
}

// WithBreakerRegistry routes probe calls through the shared circuit breakers
// so an open breaker reports unhealthy without re-probing the dependency.
func WithBreakerRegistry(reg *resilience.CircuitBreakerRegistry) AggregatorOption {
	return func(a *Aggregator) { a.breakers = reg }
}

// NewAggregator creates an Aggregator with no probes registered.
func NewAggregator(tracer trace.Tracer, logger *logger.Logger, opts ...AggregatorOption) *Aggregator {
	logger = logger.With("component", "health_aggregator")
	a := &Aggregator{
		probeTimeout: defaultProbeTimeout,
		tracer:       tracer,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRequired adds a probe whose failure makes the aggregate unhealthy.
func (a *Aggregator) RegisterRequired(p pipeline.DependencyProbe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.required = append(a.required, p)
}

// RegisterOptional adds a probe whose failure only degrades the aggregate.
func (a *Aggregator) RegisterOptional(p pipeline.DependencyProbe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.optional = append(a.optional, p)
}

// Check runs every registered probe concurrently and folds the results.
// With no probes registered the aggregate is healthy.
func (a *Aggregator) Check(ctx context.Context) pipeline.AggregateHealth {
	ctx, span := a.tracer.Start(ctx, "health_aggregator.check")
	defer span.End()

	a.mu.RLock()
	required := append([]pipeline.DependencyProbe(nil), a.required...)
	optional := append([]pipeline.DependencyProbe(nil), a.optional...)
	a.mu.RUnlock()

	type outcome struct {
		name     string
		required bool
		result   pipeline.ProbeResult
	}

	results := make([]outcome, len(required)+len(optional))

	g, gctx := errgroup.WithContext(ctx)
	run := func(idx int, probe pipeline.DependencyProbe, req bool) {
		g.Go(func() error {
			results[idx] = outcome{
				name:     probe.Name(),
				required: req,
				result:   a.runProbe(gctx, probe),
			}
			return nil
		})
	}
	for i, p := range required {
		run(i, p, true)
	}
	for i, p := range optional {
		run(len(required)+i, p, false)
	}
	_ = g.Wait()

	health := pipeline.AggregateHealth{
		Status: pipeline.AggregateHealthy,
		Checks: make(map[string]pipeline.ProbeResult, len(results)),
	}
	for _, o := range results {
		health.Checks[o.name] = o.result
		if o.result.Healthy {
			continue
		}
		if o.required {
			health.Status = pipeline.AggregateUnhealthy
		} else if health.Status == pipeline.AggregateHealthy {
			health.Status = pipeline.AggregateDegraded
		}
		a.logger.Warn(ctx, "Dependency probe failed",
			"dependency", o.name,
			"required", o.required,
			"details", o.result.Details,
		)
	}

	span.SetAttributes(
		attribute.String("status", string(health.Status)),
		attribute.Int("probe_count", len(results)),
	)
	if health.Status == pipeline.AggregateUnhealthy {
		span.SetStatus(codes.Error, "required dependency unhealthy")
	} else {
		span.SetStatus(codes.Ok, string(health.Status))
	}
	return health
}

// runProbe executes one probe under the per-probe timeout, routed through the
// dependency's circuit breaker when a registry is configured.
func (a *Aggregator) runProbe(ctx context.Context, probe pipeline.DependencyProbe) pipeline.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	start := time.Now()

	var result pipeline.ProbeResult
	check := func(ctx context.Context) error {
		result = probe.Check(ctx)
		if !result.Healthy {
			return pipeline.NewTransientError(fmt.Errorf("%s probe failed: %s", probe.Name(), result.Details))
		}
		return nil
	}

	var err error
	if a.breakers != nil {
		err = a.breakers.Call(ctx, probe.Name(), check)
	} else {
		err = check(ctx)
	}

	if pipeline.IsCircuitOpen(err) {
		return pipeline.ProbeResult{
			Healthy: false,
			Details: "circuit open",
			Latency: time.Since(start),
		}
	}
	result.Latency = time.Since(start)
	return result
}
