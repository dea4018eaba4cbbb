package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/observability"
)

const (
	confirmTimeout = 5 * time.Second

	headerDispatchID = "x-dispatch-id"
	headerStatus     = "x-dispatch-status"
)

// RabbitMQPublisher publishes status changes to EventsExchange on a
// confirm-mode channel. Publish returns only once the broker has taken the
// message, so an outbox row is marked published only after a confirm.
type RabbitMQPublisher struct {
	broker *Broker
}

func NewRabbitMQPublisher(broker *Broker) *RabbitMQPublisher {
	return &RabbitMQPublisher{broker: broker}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, evt domain.DispatchStatusChanged) error {
	if p == nil || p.broker == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := encodeStatusChanged(evt)
	if err != nil {
		return err
	}

	ch, err := p.broker.publishChannel(ctx)
	if err != nil {
		return err
	}

	key := RoutingKey(evt)
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, key, false, false, publishingFor(ctx, evt, payload))
	if err != nil {
		p.broker.dropPublishChannel(ch)
		return fmt.Errorf("failed to publish event %s to %q: %w", evt.EventID, key, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		// The confirm may still arrive on this channel; start clean next time.
		p.broker.dropPublishChannel(ch)
		return fmt.Errorf("no broker confirm for event %s: %w", evt.EventID, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked event %s", evt.EventID)
	}
	return nil
}

func publishingFor(ctx context.Context, evt domain.DispatchStatusChanged, payload []byte) amqp.Publishing {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.OccurredAt.UTC(),
		MessageId:    evt.EventID,
		Type:         domain.EventDispatchStatusChanged,
		Headers: amqp.Table{
			headerDispatchID: evt.DispatchID,
			headerStatus:     evt.Status.String(),
		},
		Body: payload,
	}
	if requestID, ok := observability.RequestIDFromContext(ctx); ok {
		msg.CorrelationId = requestID
	}
	return msg
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.broker == nil {
		return nil
	}
	return p.broker.Close()
}
