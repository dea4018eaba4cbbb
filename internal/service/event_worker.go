package service

import (
	"context"
	"fmt"

	"github.com/samknelson/sirius-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// EventWorker consumes status changes from the broker and hands each one to
// handler, typically the event bus's synchronous Deliver.
type EventWorker struct {
	consumer    queue.Consumer
	handler     queue.MessageHandler
	concurrency int
	logger      *zap.Logger
}

func NewEventWorker(
	consumer queue.Consumer,
	handler queue.MessageHandler,
	concurrency int,
	logger *zap.Logger,
) (*EventWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventWorker{
		consumer:    consumer,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start runs concurrency consumers until ctx is cancelled or one of them fails.
func (w *EventWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("event worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.StatusChangedQueue),
			)

			if err := w.consumer.Consume(groupCtx, queue.StatusChangedQueue, w.handler); err != nil {
				w.logger.Error("event worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("event worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}
