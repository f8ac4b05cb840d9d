package worker

import (
	"context"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/submission-service/internal/worker/queue"
	"github.com/rs/zerolog"
)

// QueueDispatcher hands accepted submissions to the broker. Scoring happens
// in whichever process consumes the queue.
type QueueDispatcher struct {
	publisher  queue.RabbitMQPublisher
	routingKey string
}

func NewQueueDispatcher(publisher queue.RabbitMQPublisher, routingKey string) *QueueDispatcher {
	return &QueueDispatcher{
		publisher:  publisher,
		routingKey: routingKey,
	}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, event models.SubmissionAcceptedEvent) error {
	if err := d.publisher.PublishJSON(ctx, d.routingKey, event); err != nil {
		return fmt.Errorf("failed to dispatch scoring: %w", err)
	}
	return nil
}

// LocalDispatcher scores in-process on the worker pool.
type LocalDispatcher struct {
	pool      *WorkerPool
	processor *Processor
	logger    zerolog.Logger
}

func NewLocalDispatcher(pool *WorkerPool, processor *Processor, logger zerolog.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		pool:      pool,
		processor: processor,
		logger:    logger,
	}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, event models.SubmissionAcceptedEvent) error {
	// Scoring outlives the request that accepted the submission.
	jobCtx := context.WithoutCancel(ctx)

	err := d.pool.Submit(func() {
		if err := d.processor.Process(jobCtx, event); err != nil {
			d.logger.Error().
				Err(err).
				Str("submission_id", event.SubmissionID).
				Msg("Failed to score submission")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch scoring: %w", err)
	}
	return nil
}
