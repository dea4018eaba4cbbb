package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samknelson/sirius-dispatch/internal/ratelimit"
)

const (
	defaultMediumPerSecond = 10
	defaultWorkerWindow    = time.Minute
	mediumWindow           = time.Second
	minRetryWait           = 5 * time.Millisecond
	keyPrefix              = "ratelimit:dispatch"
)

// sendBudgetScript checks the worker budget first so a throttled worker does
// not use up the shared medium budget. Both counters are taken together.
//
// KEYS[1] medium counter, KEYS[2] worker counter (optional)
// ARGV    medium limit, medium window ms, worker limit, worker window ms
// Returns {code, retryAfterMs}: 0 allowed, 1 medium exhausted, 2 worker exhausted.
var sendBudgetScript = goredis.NewScript(`
local function exhausted(key, limit)
  return tonumber(redis.call("GET", key) or "0") >= limit
end

local function take(key, windowMs)
  if redis.call("INCR", key) == 1 then
    redis.call("PEXPIRE", key, windowMs)
  end
end

local function retry_after(key)
  local ttl = redis.call("PTTL", key)
  if ttl < 0 then
    return 0
  end
  return ttl
end

local checkWorker = #KEYS > 1
if checkWorker and exhausted(KEYS[2], tonumber(ARGV[3])) then
  return {2, retry_after(KEYS[2])}
end
if exhausted(KEYS[1], tonumber(ARGV[1])) then
  return {1, retry_after(KEYS[1])}
end

take(KEYS[1], ARGV[2])
if checkWorker then
  take(KEYS[2], ARGV[4])
end
return {0, 0}
`)

// Limits sizes the two send budgets.
type Limits struct {
	// MediumPerSecond is shared by every worker on a medium.
	MediumPerSecond int
	// WorkerPerWindow caps sends to one worker on one medium. 0 disables it.
	WorkerPerWindow int
	WorkerWindow    time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MediumPerSecond <= 0 {
		l.MediumPerSecond = defaultMediumPerSecond
	}
	if l.WorkerPerWindow < 0 {
		l.WorkerPerWindow = 0
	}
	if l.WorkerWindow <= 0 {
		l.WorkerWindow = defaultWorkerWindow
	}
	return l
}

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter keeps the send budgets in Redis so every notifier process
// draws from the same counters.
type RedisRateLimiter struct {
	client *goredis.Client
	limits Limits
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limits Limits) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisRateLimiter{
		client: client,
		limits: limits.withDefaults(),
		sleep:  sleepWithContext,
	}, nil
}

func mediumKey(key ratelimit.Key) string {
	return fmt.Sprintf("%s:medium:%s", keyPrefix, key.Medium)
}

func workerKey(key ratelimit.Key) string {
	return fmt.Sprintf("%s:worker:%s:%s", keyPrefix, key.WorkerID, key.Medium)
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key ratelimit.Key) (ratelimit.Decision, error) {
	if err := key.Validate(); err != nil {
		return ratelimit.Decision{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	keys := []string{mediumKey(key)}
	if key.WorkerID != "" && r.limits.WorkerPerWindow > 0 {
		keys = append(keys, workerKey(key))
	}

	reply, err := sendBudgetScript.Run(ctx, r.client, keys,
		r.limits.MediumPerSecond,
		mediumWindow.Milliseconds(),
		r.limits.WorkerPerWindow,
		r.limits.WorkerWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to evaluate send budget: %w", err)
	}
	if len(reply) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected send budget reply %v", reply)
	}

	retryAfter := time.Duration(reply[1]) * time.Millisecond
	switch reply[0] {
	case 0:
		return ratelimit.Decision{Allowed: true}, nil
	case 1:
		return ratelimit.Decision{Scope: ratelimit.ScopeMedium, RetryAfter: retryAfter}, nil
	case 2:
		return ratelimit.Decision{Scope: ratelimit.ScopeWorker, RetryAfter: retryAfter}, nil
	default:
		return ratelimit.Decision{}, fmt.Errorf("unexpected send budget code %d", reply[0])
	}
}

// Wait sleeps until the medium window reopens. A worker over their own
// budget gets ErrWorkerThrottled straight away.
func (r *RedisRateLimiter) Wait(ctx context.Context, key ratelimit.Key) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		decision, err := r.Allow(ctx, key)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}
		if decision.Scope == ratelimit.ScopeWorker {
			return fmt.Errorf("%w: worker %s on %s, reopens in %s",
				ratelimit.ErrWorkerThrottled, key.WorkerID, key.Medium, decision.RetryAfter)
		}

		if err := r.sleep(ctx, retryWait(decision.RetryAfter)); err != nil {
			return err
		}
	}
}

func retryWait(d time.Duration) time.Duration {
	if d < minRetryWait {
		return minRetryWait
	}
	if d > mediumWindow {
		return mediumWindow
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
