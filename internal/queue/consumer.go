package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 2

	headerAttempt     = "x-sirius-attempt"
	headerDeathReason = "x-sirius-death-reason"
	headerSourceQueue = "x-sirius-source-queue"
	headerEventID     = "x-event-id"
)

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// verdict is what the consumer decided to do with one delivery.
type verdict struct {
	outcome outcome
	attempt int
	reason  string
	evt     domain.DispatchStatusChanged
}

// amqpPublisher is the part of *amqp.Channel used to settle deliveries.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQConsumer feeds status changes from a work queue into a
// MessageHandler. A failed delivery is republished to the back of the queue
// with its attempt count until maxAttempts, then moved to the DLQ with the
// reason attached. Payloads that do not decode and permanent handler errors
// go to the DLQ at once.
type RabbitMQConsumer struct {
	broker      *Broker
	prefetch    int
	maxAttempts int
	logger      *zap.Logger
}

func NewRabbitMQConsumer(broker *Broker, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		broker:      broker,
		prefetch:    prefetch,
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.broker == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn("consumer stopped, resubscribing",
				zap.Error(err),
				zap.String("queue", queue),
				zap.Duration("retryIn", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.broker.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			v := c.process(ctx, d, handler)
			if err := c.settle(ctx, ch, queue, d, v); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) verdict {
	attempt := deliveryAttempt(d)

	evt, err := decodeStatusChanged(d.Body)
	if err != nil {
		return verdict{outcome: outcomeDeadLetter, attempt: attempt, reason: "undecodable: " + err.Error()}
	}

	err = handler(ctx, evt)
	switch {
	case err == nil:
		return verdict{outcome: outcomeAck, attempt: attempt, evt: evt}
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		return verdict{outcome: outcomeDeadLetter, attempt: attempt, reason: "rejected: " + err.Error(), evt: evt}
	case attempt >= c.maxAttempts:
		return verdict{outcome: outcomeDeadLetter, attempt: attempt, reason: "retries exhausted: " + err.Error(), evt: evt}
	default:
		return verdict{outcome: outcomeRetry, attempt: attempt, reason: err.Error(), evt: evt}
	}
}

func (c *RabbitMQConsumer) settle(ctx context.Context, pub amqpPublisher, queue string, d amqp.Delivery, v verdict) error {
	log := c.logger.With(
		zap.String("eventId", v.evt.EventID),
		zap.String("dispatchId", v.evt.DispatchID),
		zap.Int("attempt", v.attempt),
	)

	switch v.outcome {
	case outcomeAck:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
		return nil

	case outcomeRetry:
		log.Warn("status change handler failed, retrying", zap.String("reason", v.reason))

		msg := republish(d)
		msg.Headers[headerAttempt] = int32(v.attempt + 1)
		if err := pub.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
			log.Warn("retry publish failed, requeueing", zap.Error(err))
			if nackErr := d.Nack(false, true); nackErr != nil {
				return fmt.Errorf("retry publish failed and nack failed: %w", nackErr)
			}
			return fmt.Errorf("failed to republish delivery: %w", err)
		}
		return ackSettled(d)

	default:
		dlq := DLQName(queue)
		log.Warn("dead-lettering status change", zap.String("reason", v.reason), zap.String("dlq", dlq))

		msg := republish(d)
		msg.Headers[headerAttempt] = int32(v.attempt)
		msg.Headers[headerDeathReason] = v.reason
		msg.Headers[headerSourceQueue] = queue
		if v.evt.EventID != "" {
			msg.Headers[headerEventID] = v.evt.EventID
			msg.Headers[headerDispatchID] = v.evt.DispatchID
		}
		if err := pub.PublishWithContext(ctx, "", dlq, false, false, msg); err != nil {
			// The queue's dead-letter exchange still routes it to the DLQ, without the reason.
			log.Warn("dlq publish failed, rejecting", zap.Error(err))
			if rejectErr := d.Reject(false); rejectErr != nil {
				return fmt.Errorf("dlq publish failed and reject failed: %w", rejectErr)
			}
			return nil
		}
		return ackSettled(d)
	}
}

func ackSettled(d amqp.Delivery) error {
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack settled delivery: %w", err)
	}
	return nil
}

// republish copies a delivery into a new persistent publishing.
func republish(d amqp.Delivery) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
		MessageId:     d.MessageId,
		Timestamp:     d.Timestamp,
		Type:          d.Type,
		Body:          d.Body,
	}
}

// deliveryAttempt is 1 for a first delivery. Messages without the attempt
// header that the broker redelivered count as a second attempt.
func deliveryAttempt(d amqp.Delivery) int {
	switch n := d.Headers[headerAttempt].(type) {
	case int32:
		if n > 0 {
			return int(n)
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.broker == nil {
		return nil
	}
	return c.broker.Close()
}
