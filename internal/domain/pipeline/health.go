package pipeline

import (
	"context"
	"time"
)

// DependencyProbe checks one external dependency's availability.
type DependencyProbe interface {
	// Name returns the dependency's identifier, e.g. "postgres".
	Name() string
	// Check performs a single availability check.
	Check(ctx context.Context) ProbeResult
}

// ProbeResult is the outcome of a single dependency probe.
type ProbeResult struct {
	Healthy bool
	Details string
	Latency time.Duration
}

// AggregateStatus is the composite verdict over all registered probes.
type AggregateStatus string

const (
	// AggregateHealthy means every required probe passed.
	AggregateHealthy AggregateStatus = "healthy"

	// AggregateDegraded means only optional probes failed.
	AggregateDegraded AggregateStatus = "degraded"

	// AggregateUnhealthy means at least one required probe failed.
	AggregateUnhealthy AggregateStatus = "unhealthy"
)

// AggregateHealth is the result of running all registered probes.
type AggregateHealth struct {
	Status AggregateStatus
	Checks map[string]ProbeResult
}

// Healthy reports whether every required probe passed.
func (a AggregateHealth) Healthy() bool { return a.Status != AggregateUnhealthy }
