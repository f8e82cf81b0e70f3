// Package probes implements dependency probes for the health aggregator.
package probes

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

var _ pipeline.DependencyProbe = (*postgresProbe)(nil)

// postgresProbe checks database availability with a pool-level ping.
type postgresProbe struct{ pool *pgxpool.Pool }

// NewPostgresProbe creates a probe for the given connection pool.
func NewPostgresProbe(pool *pgxpool.Pool) *postgresProbe {
	return &postgresProbe{pool: pool}
}

func (p *postgresProbe) Name() string { return "postgres" }

func (p *postgresProbe) Check(ctx context.Context) pipeline.ProbeResult {
	start := time.Now()
	if err := p.pool.Ping(ctx); err != nil {
		return pipeline.ProbeResult{Healthy: false, Details: err.Error(), Latency: time.Since(start)}
	}
	return pipeline.ProbeResult{Healthy: true, Latency: time.Since(start)}
}
