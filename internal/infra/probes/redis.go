package probes

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

var _ pipeline.DependencyProbe = (*redisProbe)(nil)

// redisProbe checks cache availability with PING.
type redisProbe struct{ client *redis.Client }

// NewRedisProbe creates a probe for the given redis client.
func NewRedisProbe(client *redis.Client) *redisProbe {
	return &redisProbe{client: client}
}

func (p *redisProbe) Name() string { return "redis" }

func (p *redisProbe) Check(ctx context.Context) pipeline.ProbeResult {
	start := time.Now()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return pipeline.ProbeResult{Healthy: false, Details: err.Error(), Latency: time.Since(start)}
	}
	return pipeline.ProbeResult{Healthy: true, Latency: time.Since(start)}
}
