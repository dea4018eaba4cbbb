package queue

import (
	"context"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// Publisher publishes status-changed events to the broker.
type Publisher interface {
	Publish(ctx context.Context, evt domain.DispatchStatusChanged) error
	Close() error
}

// MessageHandler handles a consumed status-changed event.
type MessageHandler func(ctx context.Context, evt domain.DispatchStatusChanged) error

// Consumer consumes status-changed events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// EventsExchange is the topic exchange status changes are published to.
	EventsExchange = "sirius.dispatch.events"

	// StatusChangedQueue is the durable work queue for dispatch status
	// changes. It receives every status.
	StatusChangedQueue = domain.EventDispatchStatusChanged
)

// RoutingKey is the topic a status change is published under, e.g.
// dispatch.status_changed.notified. Consumers interested in one status can
// bind to just that key.
func RoutingKey(evt domain.DispatchStatusChanged) string {
	return domain.EventDispatchStatusChanged + "." + evt.Status.String()
}

// DLQName returns the dead-letter queue of a work queue.
func DLQName(queue string) string {
	return "dlq." + queue
}
