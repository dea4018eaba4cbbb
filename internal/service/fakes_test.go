package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/samknelson/sirius-dispatch/internal/channel"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/event"
	"github.com/samknelson/sirius-dispatch/internal/queue"
	"github.com/samknelson/sirius-dispatch/internal/ratelimit"
	"github.com/samknelson/sirius-dispatch/internal/repository/memory"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu        sync.Mutex
	events    []domain.DispatchStatusChanged
	publishFn func(ctx context.Context, evt domain.DispatchStatusChanged) error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt domain.DispatchStatusChanged) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()

	if p.publishFn != nil {
		return p.publishFn(ctx, evt)
	}
	return nil
}

func (p *recordingPublisher) Published() []domain.DispatchStatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DispatchStatusChanged(nil), p.events...)
}

var _ event.Publisher = (*recordingPublisher)(nil)

type fakeSender struct {
	medium domain.Medium
	sendFn func(ctx context.Context, msg channel.Message) (*channel.Delivery, error)

	mu   sync.Mutex
	sent []channel.Message
}

func (f *fakeSender) Medium() domain.Medium { return f.medium }

func (f *fakeSender) Send(ctx context.Context, msg channel.Message) (*channel.Delivery, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	count := len(f.sent)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &channel.Delivery{MessageID: fmt.Sprintf("%s-%d", f.medium, count)}, nil
}

func (f *fakeSender) Sent() []channel.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.Message(nil), f.sent...)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key ratelimit.Key) (ratelimit.Decision, error)
	waitFn  func(ctx context.Context, key ratelimit.Key) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key ratelimit.Key) (ratelimit.Decision, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return ratelimit.Decision{Allowed: true}, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key ratelimit.Key) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

const (
	testJobID    = "j-1"
	testWorkerID = "w-1"
	testUserID   = "u-1"
	testBaseURL  = "https://sirius.test"
)

// seedJob stores employer, job type, job and a fully reachable worker.
func seedJob(store *memory.Store, workerCount int, media ...domain.Medium) {
	userID := testUserID
	store.SeedEmployer(domain.Employer{ID: "e-1", Name: "Harbor Freight Lines"})
	store.SeedJobType(domain.DispatchJobType{ID: "jt-1", Name: "Longshore", NotificationMedia: media})
	store.SeedJob(domain.DispatchJob{
		ID:          testJobID,
		Title:       "Crane operator",
		EmployerID:  "e-1",
		JobTypeID:   "jt-1",
		WorkerCount: workerCount,
	})
	store.SeedWorker(memory.WorkerRecord{
		WorkerID:    testWorkerID,
		ContactID:   "c-1",
		DisplayName: "Pat Doe",
		Email:       "pat@example.com",
		UserID:      &userID,
		Phones: []domain.PhoneNumber{
			{Number: "+15550001", IsActive: true, IsPrimary: true},
		},
	})
}

func newTestStatusService(t *testing.T, store *memory.Store, publisher *recordingPublisher) *StatusService {
	t.Helper()

	svc, err := NewStatusService(
		store,
		store.Dispatches(),
		store.Jobs(),
		store.Events(),
		publisher,
		domain.DefaultTransitionPolicy(),
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewStatusService() error = %v", err)
	}
	return svc
}

func newTestNotifier(t *testing.T, store *memory.Store, cfg NotifierConfig, senders ...channel.Sender) *Notifier {
	t.Helper()

	renderer, err := channel.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	n, err := NewNotifier(
		store.Dispatches(),
		store.Jobs(),
		store.Contacts(),
		store.Comms(),
		channel.NewSenders(senders...),
		renderer,
		&fakeRateLimiter{},
		cfg,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewNotifier() error = %v", err)
	}
	return n
}

func enabledConfig() NotifierConfig {
	return NotifierConfig{Enabled: true, PublicBaseURL: testBaseURL}
}
