package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samknelson/sirius-dispatch/internal/event"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultOutboxScanInterval = 30 * time.Second
	defaultOutboxGrace        = 10 * time.Second
	defaultOutboxScanLimit    = 100
)

// OutboxRelay periodically republishes status changes whose post-commit
// publish never completed. Rows younger than the grace period are left to
// the publish that is still in flight.
type OutboxRelay struct {
	events    repository.EventRepository
	publisher event.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	grace     time.Duration
	limit     int
	now       func() time.Time
}

func NewOutboxRelay(
	events repository.EventRepository,
	publisher event.Publisher,
	interval time.Duration,
	grace time.Duration,
	limit int,
	logger *zap.Logger,
) (*OutboxRelay, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultOutboxScanInterval
	}
	if grace < 0 {
		grace = defaultOutboxGrace
	}
	if limit <= 0 {
		limit = defaultOutboxScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutboxRelay{
		events:    events,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		grace:     grace,
		limit:     limit,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *OutboxRelay) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *OutboxRelay) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := r.relayDue(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("outbox relay initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.relayDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("outbox relay scan failed", zap.Error(err))
			}
		}
	}
}

// relayDue publishes one page of stale events and returns how many were
// marked published.
func (r *OutboxRelay) relayDue(ctx context.Context) (int, error) {
	due, err := r.events.ListUnpublished(ctx, r.now().Add(-r.grace), r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unpublished events: %w", err)
	}

	relayed := 0
	for i := range due {
		evt := due[i]
		if err := r.publisher.Publish(ctx, evt.Payload); err != nil {
			r.logger.Error("failed to relay status change",
				zap.String("eventId", evt.ID),
				zap.String("dispatchId", evt.DispatchID),
				zap.Error(err),
			)
			r.metrics.IncOutboxRelayed("failed")
			continue
		}

		if err := r.events.MarkPublished(ctx, evt.ID, r.now()); err != nil {
			r.logger.Error("failed to mark relayed event published",
				zap.String("eventId", evt.ID),
				zap.Error(err),
			)
			r.metrics.IncOutboxRelayed("failed")
			continue
		}

		r.metrics.IncOutboxRelayed("published")
		relayed++
	}

	if relayed > 0 {
		r.logger.Info("relayed unpublished status changes", zap.Int("count", relayed))
	}

	return relayed, nil
}
