package ingestion

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/kafka"
	"github.com/devstudio-tyler/company-on/pkg/logger"
)

// Dispatcher hands an upload to the worker pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, uploadID string) error
}

// KafkaDispatcher publishes a Task keyed by upload id.
type KafkaDispatcher struct {
	producer EventPublisher
}

func NewKafkaDispatcher(producer EventPublisher) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, uploadID string) error {
	task := Task{UploadID: uploadID, DispatchedAt: time.Now().UTC()}
	return d.producer.Publish(ctx, kafka.Event{Key: uploadID, Type: "upload.process", Value: task})
}

// Runner is satisfied by *Pipeline.
type Runner interface {
	Run(ctx context.Context, uploadID string) (*RunResult, error)
}

// TaskHandler adapts a Runner to a Kafka consumer. Pipeline failures are
// already recorded on the session, so the message is committed for them.
// A shutdown mid-run leaves it uncommitted; the pipeline has released the
// session to pending, so the redelivered task claims it again.
func TaskHandler(runner Runner) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		task, err := kafka.DecodeJSON[Task](value)
		if err != nil || task.UploadID == "" {
			logger.FromContext(ctx).Error("discarding malformed task", "key", string(key), "error", err)
			return nil
		}
		ctx = logger.WithUploadID(ctx, task.UploadID)
		log := logger.FromContext(ctx)

		_, err = runner.Run(ctx, task.UploadID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, apperrors.ErrPipelineBusy):
			log.Info("upload already being processed, skipping task")
		case errors.Is(err, apperrors.ErrStatusConflict):
			log.Info("stale task skipped", "reason", err)
		case ctx.Err() != nil:
			return ctx.Err()
		}
		return nil
	}
}
