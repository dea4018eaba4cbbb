// Package event carries DispatchStatusChanged from the status writer to its
// side-effect handlers.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"go.uber.org/zap"
)

const defaultHandlerTimeout = 2 * time.Minute

// Publisher is implemented by every transport that can carry a status change.
type Publisher interface {
	Publish(ctx context.Context, evt domain.DispatchStatusChanged) error
}

type HandlerFunc func(ctx context.Context, evt domain.DispatchStatusChanged) error

type subscription struct {
	name string
	fn   HandlerFunc
}

// Bus is an in-process fan-out of status changes to named handlers. Handlers
// run in subscription order for Deliver and concurrently for Publish.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	inflight sync.WaitGroup
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewBus(logger *zap.Logger, metrics *observability.Metrics) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		timeout: defaultHandlerTimeout,
		logger:  logger,
		metrics: metrics,
	}
}

// SetHandlerTimeout bounds each asynchronous handler run. Zero disables the bound.
func (b *Bus) SetHandlerTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

func (b *Bus) Subscribe(name string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, subscription{name: name, fn: fn})
}

func (b *Bus) snapshot() ([]subscription, time.Duration) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, len(b.handlers))
	copy(out, b.handlers)
	return out, b.timeout
}

// Publish hands evt to every handler in the background and returns at once.
// Handlers outlive the caller's context; errors and panics are logged.
func (b *Bus) Publish(ctx context.Context, evt domain.DispatchStatusChanged) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	handlers, timeout := b.snapshot()
	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.inflight.Add(1)
		go func(h subscription) {
			defer b.inflight.Done()

			runCtx := detached
			if timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(detached, timeout)
				defer cancel()
			}
			if err := b.run(runCtx, h, evt); err != nil {
				observability.WithContextLogger(b.logger, runCtx).Error("event handler failed",
					zap.String("handler", h.name),
					zap.String("eventId", evt.EventID),
					zap.String("dispatchId", evt.DispatchID),
					zap.Error(err),
				)
			}
		}(h)
	}
	return nil
}

// Deliver runs every handler synchronously on ctx and joins their errors.
// Transports that acknowledge messages use it so a failure can be retried.
func (b *Bus) Deliver(ctx context.Context, evt domain.DispatchStatusChanged) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	handlers, _ := b.snapshot()
	var errs []error
	for _, h := range handlers {
		if err := b.run(ctx, h, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until in-flight asynchronous handlers finish or ctx ends.
func (b *Bus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run(ctx context.Context, h subscription, evt domain.DispatchStatusChanged) (err error) {
	b.metrics.IncHandlerInFlight(domain.EventDispatchStatusChanged)
	defer b.metrics.DecHandlerInFlight(domain.EventDispatchStatusChanged)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.fn(ctx, evt)
}
