package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/queue"
	"go.uber.org/zap"
)

func noopHandler(context.Context, domain.DispatchStatusChanged) error { return nil }

func TestEventWorkerStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumeErr := errors.New("consume failed")
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			return consumeErr
		},
	}

	worker, err := NewEventWorker(consumer, noopHandler, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	err = worker.Start(context.Background())
	if !errors.Is(err, consumeErr) {
		t.Fatalf("Start() error = %v, want %v", err, consumeErr)
	}
}

func TestEventWorkerStartsConcurrentConsumers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	queues := make([]string, 0, 4)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			mu.Lock()
			queues = append(queues, queueName)
			mu.Unlock()
			return handler(ctx, notifiedEvent("d-1", domain.StatusPending))
		},
	}

	var handled int
	var handledMu sync.Mutex
	handler := func(ctx context.Context, evt domain.DispatchStatusChanged) error {
		handledMu.Lock()
		defer handledMu.Unlock()
		handled++
		return nil
	}

	worker, err := NewEventWorker(consumer, handler, 4, nil)
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(queues) != 4 {
		t.Fatalf("consumers = %d, want 4", len(queues))
	}
	for _, q := range queues {
		if q != queue.StatusChangedQueue {
			t.Fatalf("queue = %q, want %q", q, queue.StatusChangedQueue)
		}
	}
	if handled != 4 {
		t.Fatalf("handled = %d, want 4", handled)
	}
}

func TestNewEventWorkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewEventWorker(nil, noopHandler, 1, nil); err == nil {
		t.Fatal("expected error for nil consumer")
	}
	if _, err := NewEventWorker(&fakeConsumer{}, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}

	worker, err := NewEventWorker(&fakeConsumer{}, noopHandler, 0, nil)
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}
	if worker.concurrency != minWorkerConcurrency {
		t.Fatalf("concurrency = %d, want %d", worker.concurrency, minWorkerConcurrency)
	}
}
