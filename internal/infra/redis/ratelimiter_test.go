package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/ratelimit"
)

func newTestLimiter(t *testing.T, limits Limits) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter, err := NewRedisRateLimiter(rdb, limits)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	return limiter, mr
}

func allow(t *testing.T, limiter *RedisRateLimiter, key ratelimit.Key) ratelimit.Decision {
	t.Helper()

	decision, err := limiter.Allow(context.Background(), key)
	if err != nil {
		t.Fatalf("Allow(%+v) error = %v", key, err)
	}
	return decision
}

func TestSmsBudgetIsSharedAcrossWorkers(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestLimiter(t, Limits{MediumPerSecond: 2})

	for _, worker := range []string{"w-1", "w-2"} {
		if d := allow(t, limiter, ratelimit.Key{Medium: domain.MediumSMS, WorkerID: worker}); !d.Allowed {
			t.Fatalf("sms to %s refused: %+v", worker, d)
		}
	}

	d := allow(t, limiter, ratelimit.Key{Medium: domain.MediumSMS, WorkerID: "w-3"})
	if d.Allowed || d.Scope != ratelimit.ScopeMedium {
		t.Fatalf("third sms in the window = %+v, want refused by the medium budget", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("RetryAfter = %s, want within the one second window", d.RetryAfter)
	}

	if d := allow(t, limiter, ratelimit.Key{Medium: domain.MediumEmail, WorkerID: "w-3"}); !d.Allowed {
		t.Fatalf("email must not draw on the sms budget: %+v", d)
	}

	mr.FastForward(time.Second)
	if d := allow(t, limiter, ratelimit.Key{Medium: domain.MediumSMS, WorkerID: "w-3"}); !d.Allowed {
		t.Fatalf("sms after the window reopened = %+v, want allowed", d)
	}
}

func TestWorkerBudgetCapsRepeatedOffers(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestLimiter(t, Limits{MediumPerSecond: 100, WorkerPerWindow: 2, WorkerWindow: time.Minute})
	key := ratelimit.Key{Medium: domain.MediumSMS, WorkerID: "w-1"}

	for i := 0; i < 2; i++ {
		if d := allow(t, limiter, key); !d.Allowed {
			t.Fatalf("offer %d refused: %+v", i+1, d)
		}
	}

	d := allow(t, limiter, key)
	if d.Allowed || d.Scope != ratelimit.ScopeWorker {
		t.Fatalf("third offer = %+v, want refused by the worker budget", d)
	}
	if d.RetryAfter <= time.Second || d.RetryAfter > time.Minute {
		t.Fatalf("RetryAfter = %s, want the rest of the worker window", d.RetryAfter)
	}

	if got, _ := mr.Get("ratelimit:dispatch:medium:sms"); got != "2" {
		t.Fatalf("medium counter = %q, want 2; a refused worker send must not spend it", got)
	}

	if d := allow(t, limiter, ratelimit.Key{Medium: domain.MediumInApp, WorkerID: "w-1"}); !d.Allowed {
		t.Fatalf("in-app to the same worker = %+v, want its own budget", d)
	}
	if d := allow(t, limiter, ratelimit.Key{Medium: domain.MediumSMS, WorkerID: "w-2"}); !d.Allowed {
		t.Fatalf("sms to another worker = %+v, want allowed", d)
	}

	mr.FastForward(time.Minute)
	if d := allow(t, limiter, key); !d.Allowed {
		t.Fatalf("offer after the worker window = %+v, want allowed", d)
	}
}

func TestWorkerBudgetDisabled(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestLimiter(t, Limits{MediumPerSecond: 100})
	key := ratelimit.Key{Medium: domain.MediumEmail, WorkerID: "w-1"}

	for i := 0; i < 10; i++ {
		if d := allow(t, limiter, key); !d.Allowed {
			t.Fatalf("send %d refused with no worker cap: %+v", i+1, d)
		}
	}
	if mr.Exists("ratelimit:dispatch:worker:w-1:email") {
		t.Fatal("no worker counter should be kept when the cap is off")
	}
}

func TestAllowRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, Limits{})

	_, err := limiter.Allow(context.Background(), ratelimit.Key{Medium: "pager", WorkerID: "w-1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Allow() error = %v, want ErrValidation", err)
	}
}

func TestWaitSleepsUntilMediumReopens(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestLimiter(t, Limits{MediumPerSecond: 1})
	var slept []time.Duration
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		mr.FastForward(d)
		return nil
	}

	first := ratelimit.Key{Medium: domain.MediumSMS, WorkerID: "w-1"}
	if err := limiter.Wait(context.Background(), first); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first send slept %v, want no wait", slept)
	}

	if err := limiter.Wait(context.Background(), ratelimit.Key{Medium: domain.MediumSMS, WorkerID: "w-2"}); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) == 0 {
		t.Fatal("second send in the window should wait")
	}
	for _, d := range slept {
		if d < minRetryWait || d > time.Second {
			t.Fatalf("slept %s, want between %s and 1s", d, minRetryWait)
		}
	}
}

func TestWaitDoesNotBlockOnThrottledWorker(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, Limits{MediumPerSecond: 100, WorkerPerWindow: 1, WorkerWindow: time.Hour})
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatalf("Wait slept %s for a throttled worker", d)
		return nil
	}

	key := ratelimit.Key{Medium: domain.MediumInApp, WorkerID: "w-1"}
	if err := limiter.Wait(context.Background(), key); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), key); !errors.Is(err, ratelimit.ErrWorkerThrottled) {
		t.Fatalf("Wait() error = %v, want ErrWorkerThrottled", err)
	}
}

func TestWaitHonoursContextDeadline(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, Limits{MediumPerSecond: 1})
	key := ratelimit.Key{Medium: domain.MediumSMS}

	if err := limiter.Wait(context.Background(), key); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}
