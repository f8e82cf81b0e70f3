package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

// ConnectWithRetry establishes the resume-queue producer with exponential
// backoff. It will retry failed connection attempts for up to 5 minutes,
// starting with 5 second intervals, which covers brokers that are still
// starting when the service boots.
func ConnectWithRetry(
	clientCfg *ClientConfig,
	topic string,
	metrics QueueMetrics,
	tracer trace.Tracer,
	logger *logger.Logger,
) (pipeline.JobResubmitter, error) {
	var queue pipeline.JobResubmitter

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		client, err := NewClient(clientCfg)
		if err != nil {
			return fmt.Errorf("creating kafka client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		queue = NewResumeQueue(producer, topic, metrics, tracer, logger)
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect resume queue after retries: %w", err)
	}

	return queue, nil
}
