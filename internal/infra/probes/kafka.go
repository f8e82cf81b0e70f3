package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

var _ pipeline.DependencyProbe = (*kafkaProbe)(nil)

// kafkaProbe checks broker availability by refreshing cluster metadata for
// the resume topic.
type kafkaProbe struct {
	client sarama.Client
	topic  string
}

// NewKafkaProbe creates a probe for the given kafka client and topic.
func NewKafkaProbe(client sarama.Client, topic string) *kafkaProbe {
	return &kafkaProbe{client: client, topic: topic}
}

func (p *kafkaProbe) Name() string { return "kafka" }

func (p *kafkaProbe) Check(_ context.Context) pipeline.ProbeResult {
	start := time.Now()
	if err := p.client.RefreshMetadata(p.topic); err != nil {
		return pipeline.ProbeResult{Healthy: false, Details: err.Error(), Latency: time.Since(start)}
	}
	brokers := p.client.Brokers()
	if len(brokers) == 0 {
		return pipeline.ProbeResult{Healthy: false, Details: "no reachable brokers", Latency: time.Since(start)}
	}
	return pipeline.ProbeResult{
		Healthy: true,
		Details: fmt.Sprintf("%d brokers", len(brokers)),
		Latency: time.Since(start),
	}
}
