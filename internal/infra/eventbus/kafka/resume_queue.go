// Package kafka publishes recovered work back onto the stage-executor resume
// queue.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

// ClientConfig contains all configuration needed for Kafka client setup.
type ClientConfig struct {
	Brokers  []string
	ClientID string
}

// NewClient creates and configures a Kafka client with the provided settings.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	// Hash partitioning by job ID keeps resume events for one job ordered.
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// QueueMetrics defines the metrics operations for the resume queue.
type QueueMetrics interface {
	IncResumePublished(ctx context.Context, stage string)
}

var _ pipeline.JobResubmitter = (*resumeQueue)(nil)

// resumeQueue implements JobResubmitter on a Kafka topic. Each resume command
// is one message keyed by job ID.
type resumeQueue struct {
	producer sarama.SyncProducer
	topic    string

	metrics QueueMetrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// NewResumeQueue creates a resume queue publishing to the given topic.
func NewResumeQueue(
	producer sarama.SyncProducer,
	topic string,
	metrics QueueMetrics,
	tracer trace.Tracer,
	logger *logger.Logger,
) *resumeQueue {
	logger = logger.With("component", "kafka_resume_queue")
	return &resumeQueue{
		producer: producer,
		topic:    topic,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}
}

// resumeEventDTO is the wire form of a resume command.
type resumeEventDTO struct {
	JobID        string   `json:"job_id"`
	Stage        string   `json:"stage"`
	RemainingIDs []string `json:"remaining_ids"`
	Attempt      int      `json:"attempt"`
	TimeoutMS    int64    `json:"timeout_ms"`
	EmittedAt    string   `json:"emitted_at"`
}

// Resubmit publishes the resume command to the queue. The send is
// synchronous: a nil return means the broker acknowledged the message.
func (q *resumeQueue) Resubmit(ctx context.Context, cmd pipeline.ResumeCommand) error {
	ctx, span := q.tracer.Start(ctx, "kafka_resume_queue.resubmit",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("job_id", cmd.JobID.String()),
			attribute.String("stage", cmd.Stage.String()),
			attribute.Int("remaining_items", len(cmd.RemainingIDs)),
		),
	)
	defer span.End()

	payload, err := json.Marshal(resumeEventDTO{
		JobID:        cmd.JobID.String(),
		Stage:        cmd.Stage.String(),
		RemainingIDs: cmd.RemainingIDs,
		Attempt:      cmd.Attempt,
		TimeoutMS:    cmd.Timeout.Milliseconds(),
		EmittedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal resume event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(cmd.JobID.String()),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := q.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("failed to publish resume event for job %s: %w", cmd.JobID, err)
	}

	q.metrics.IncResumePublished(ctx, cmd.Stage.String())
	q.logger.Info(ctx, "Resume event published",
		"job_id", cmd.JobID,
		"stage", cmd.Stage,
		"remaining_items", len(cmd.RemainingIDs),
		"partition", partition,
		"offset", offset,
	)
	span.SetStatus(codes.Ok, "resume event published")
	return nil
}
