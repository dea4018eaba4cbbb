package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

func TestUnlimited(t *testing.T) {
	t.Parallel()

	var limiter RateLimiter = Unlimited{}
	key := Key{Medium: domain.MediumSMS, WorkerID: "w-1"}
	for i := 0; i < 1000; i++ {
		decision, err := limiter.Allow(context.Background(), key)
		if err != nil || !decision.Allowed {
			t.Fatalf("Allow() = %+v, %v; want allowed", decision, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, Key{Medium: domain.MediumEmail}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestKeyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{name: "medium and worker", key: Key{Medium: domain.MediumInApp, WorkerID: "w-1"}},
		{name: "medium only", key: Key{Medium: domain.MediumSMS}},
		{name: "unknown medium", key: Key{Medium: "fax", WorkerID: "w-1"}, wantErr: true},
		{name: "worker id with separator", key: Key{Medium: domain.MediumSMS, WorkerID: "w:1"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.key.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
