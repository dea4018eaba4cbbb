package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// ErrWorkerThrottled means the worker already received their share of
// messages on the medium for the current window. Waiting does not help;
// the send should be dropped.
var ErrWorkerThrottled = errors.New("worker message limit reached")

// Scope names the budget that refused a send.
type Scope string

const (
	ScopeMedium Scope = "medium"
	ScopeWorker Scope = "worker"
)

// Key identifies one outbound send: the medium it goes out on and the worker
// it is addressed to. WorkerID may be empty, which skips the worker budget.
type Key struct {
	Medium   domain.Medium
	WorkerID string
}

func (k Key) Validate() error {
	if !k.Medium.IsValid() {
		return fmt.Errorf("%w: invalid medium %q", domain.ErrValidation, k.Medium)
	}
	if strings.ContainsAny(k.WorkerID, " :") {
		return fmt.Errorf("%w: invalid worker id %q", domain.ErrValidation, k.WorkerID)
	}
	return nil
}

// Decision is the outcome of a single Allow call. RetryAfter is how long the
// refusing budget stays closed.
type Decision struct {
	Allowed    bool
	Scope      Scope
	RetryAfter time.Duration
}

// RateLimiter throttles outbound sends across every process that shares the
// backing store. Each medium has a shared budget, and each worker a smaller
// budget per medium.
type RateLimiter interface {
	Allow(ctx context.Context, key Key) (Decision, error)
	// Wait blocks while the medium budget is exhausted. It returns
	// ErrWorkerThrottled without waiting when the worker budget is.
	Wait(ctx context.Context, key Key) error
}

// Unlimited never throttles. It is used when RATE_LIMIT_PER_SEC is 0.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, Key) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (Unlimited) Wait(ctx context.Context, _ Key) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
