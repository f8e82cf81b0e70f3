package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	t.Helper()

	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestResubmitPublishesResumeEvent(t *testing.T) {
	producer := newMockProducer(t)
	defer producer.Close()

	jobID := uuid.New()
	cmd := pipeline.ResumeCommand{
		JobID:        jobID,
		Stage:        pipeline.StageDownloadItems,
		RemainingIDs: []string{"clip-41", "clip-42"},
		Attempt:      2,
		Timeout:      260 * time.Second,
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, jobID.String(), string(key), "messages are keyed by job ID for per-job ordering")

		value, err := msg.Value.Encode()
		require.NoError(t, err)

		var dto resumeEventDTO
		require.NoError(t, json.Unmarshal(value, &dto))
		assert.Equal(t, jobID.String(), dto.JobID)
		assert.Equal(t, "DOWNLOAD_ITEMS", dto.Stage)
		assert.Equal(t, []string{"clip-41", "clip-42"}, dto.RemainingIDs)
		assert.Equal(t, 2, dto.Attempt)
		assert.Equal(t, int64(260000), dto.TimeoutMS)
		return nil
	})

	queue := NewResumeQueue(producer, "pipeline.resume", NoopMetrics(), noop.NewTracerProvider().Tracer("test"), logger.Noop())
	require.NoError(t, queue.Resubmit(context.Background(), cmd))
}

func TestResubmitSurfacesBrokerError(t *testing.T) {
	producer := newMockProducer(t)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	queue := NewResumeQueue(producer, "pipeline.resume", NoopMetrics(), noop.NewTracerProvider().Tracer("test"), logger.Noop())
	err := queue.Resubmit(context.Background(), pipeline.ResumeCommand{
		JobID: uuid.New(),
		Stage: pipeline.StageDownloadItems,
	})
	require.Error(t, err)
}
