package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ackRecorder struct {
	acked    int
	nacked   int
	rejected int
	requeue  bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.rejected++
	a.requeue = requeue
	return nil
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type publishRecorder struct {
	sent []published
	err  error
}

func (p *publishRecorder) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func sampleEvent() domain.DispatchStatusChanged {
	return domain.DispatchStatusChanged{
		EventID:        "e-1",
		DispatchID:     "d-1",
		WorkerID:       "w-1",
		JobID:          "j-1",
		Status:         domain.StatusNotified,
		PreviousStatus: domain.StatusPending,
		OccurredAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleDelivery(t *testing.T, rec *ackRecorder, headers amqp.Table) amqp.Delivery {
	t.Helper()

	body, err := encodeStatusChanged(sampleEvent())
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger: rec,
		Headers:      headers,
		MessageId:    "e-1",
		ContentType:  "application/json",
		Body:         body,
	}
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "dispatch.status_changed", StatusChangedQueue)
	assert.Equal(t, "dlq.dispatch.status_changed", DLQName(StatusChangedQueue))
	assert.Equal(t, "dispatch.status_changed.notified", RoutingKey(sampleEvent()))
}

func TestStatusChangedRoundTrip(t *testing.T) {
	body, err := encodeStatusChanged(sampleEvent())
	require.NoError(t, err)

	got, err := decodeStatusChanged(body)
	require.NoError(t, err)
	assert.Equal(t, sampleEvent(), got)
}

func TestEncodeRejectsInvalidEvent(t *testing.T) {
	evt := sampleEvent()
	evt.DispatchID = ""

	_, err := encodeStatusChanged(evt)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := decodeStatusChanged([]byte(`{"version":2,"name":"dispatch.status_changed","event":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported message version")
}

func TestPublishingFor(t *testing.T) {
	ctx := observability.WithRequestID(context.Background(), "req-9")
	msg := publishingFor(ctx, sampleEvent(), []byte("{}"))

	assert.Equal(t, "e-1", msg.MessageId)
	assert.Equal(t, domain.EventDispatchStatusChanged, msg.Type)
	assert.Equal(t, "req-9", msg.CorrelationId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, sampleEvent().OccurredAt, msg.Timestamp)
	assert.Equal(t, "d-1", msg.Headers[headerDispatchID])
	assert.Equal(t, "notified", msg.Headers[headerStatus])
}

func TestDeliveryAttempt(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp.Table
		redelivered bool
		want        int
	}{
		{name: "first delivery", want: 1},
		{name: "broker redelivery", redelivered: true, want: 2},
		{name: "int32 header", headers: amqp.Table{headerAttempt: int32(3)}, want: 3},
		{name: "int64 header", headers: amqp.Table{headerAttempt: int64(2)}, want: 2},
		{name: "header wins over redelivered", headers: amqp.Table{headerAttempt: int32(1)}, redelivered: true, want: 1},
		{name: "garbage header", headers: amqp.Table{headerAttempt: "two"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := amqp.Delivery{Headers: tt.headers, Redelivered: tt.redelivered}
			assert.Equal(t, tt.want, deliveryAttempt(d))
		})
	}
}

func TestProcessVerdicts(t *testing.T) {
	transient := errors.New("smtp unavailable")

	tests := []struct {
		name       string
		body       []byte
		headers    amqp.Table
		handlerErr error
		want       outcome
		wantReason string
	}{
		{name: "handled", want: outcomeAck},
		{name: "undecodable payload", body: []byte("{"), want: outcomeDeadLetter, wantReason: "undecodable"},
		{name: "transient failure retried", handlerErr: transient, want: outcomeRetry, wantReason: "smtp unavailable"},
		{
			name:       "transient failure on last attempt",
			headers:    amqp.Table{headerAttempt: int32(2)},
			handlerErr: transient,
			want:       outcomeDeadLetter,
			wantReason: "retries exhausted: smtp unavailable",
		},
		{
			name:       "unknown dispatch",
			handlerErr: fmt.Errorf("dispatch d-1: %w", domain.ErrNotFound),
			want:       outcomeDeadLetter,
			wantReason: "rejected: dispatch d-1: not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDelivery(t, &ackRecorder{}, tt.headers)
			if tt.body != nil {
				d.Body = tt.body
			}

			var handled []domain.DispatchStatusChanged
			c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			v := c.process(context.Background(), d, func(_ context.Context, evt domain.DispatchStatusChanged) error {
				handled = append(handled, evt)
				return tt.handlerErr
			})

			assert.Equal(t, tt.want, v.outcome)
			assert.Contains(t, v.reason, tt.wantReason)
			if tt.body == nil {
				require.Len(t, handled, 1)
				assert.Equal(t, "d-1", v.evt.DispatchID)
			} else {
				assert.Empty(t, handled)
			}
		})
	}
}

func TestSettleAck(t *testing.T) {
	rec := &ackRecorder{}
	pub := &publishRecorder{}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	err := c.settle(context.Background(), pub, StatusChangedQueue, sampleDelivery(t, rec, nil), verdict{outcome: outcomeAck, attempt: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, rec.acked)
	assert.Empty(t, pub.sent)
}

func TestSettleRetryRepublishesWithNextAttempt(t *testing.T) {
	rec := &ackRecorder{}
	pub := &publishRecorder{}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
	d := sampleDelivery(t, rec, amqp.Table{"x-trace": "abc"})

	err := c.settle(context.Background(), pub, StatusChangedQueue, d, verdict{outcome: outcomeRetry, attempt: 1, evt: sampleEvent()})
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "", sent.exchange)
	assert.Equal(t, StatusChangedQueue, sent.key)
	assert.Equal(t, int32(2), sent.msg.Headers[headerAttempt])
	assert.Equal(t, "abc", sent.msg.Headers["x-trace"])
	assert.Equal(t, d.Body, sent.msg.Body)
	assert.Equal(t, "e-1", sent.msg.MessageId)
	assert.Equal(t, 1, rec.acked)
	assert.Nil(t, d.Headers[headerAttempt], "original delivery headers must not be mutated")
}

func TestSettleRetryFallsBackToRequeue(t *testing.T) {
	rec := &ackRecorder{}
	pub := &publishRecorder{err: errors.New("channel closed")}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	err := c.settle(context.Background(), pub, StatusChangedQueue, sampleDelivery(t, rec, nil), verdict{outcome: outcomeRetry, attempt: 1})
	require.Error(t, err)

	assert.Equal(t, 0, rec.acked)
	assert.Equal(t, 1, rec.nacked)
	assert.True(t, rec.requeue)
}

func TestSettleDeadLetterCarriesReason(t *testing.T) {
	rec := &ackRecorder{}
	pub := &publishRecorder{}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	v := verdict{outcome: outcomeDeadLetter, attempt: 2, reason: "retries exhausted: smtp unavailable", evt: sampleEvent()}
	err := c.settle(context.Background(), pub, StatusChangedQueue, sampleDelivery(t, rec, nil), v)
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "dlq.dispatch.status_changed", sent.key)
	assert.Equal(t, "retries exhausted: smtp unavailable", sent.msg.Headers[headerDeathReason])
	assert.Equal(t, StatusChangedQueue, sent.msg.Headers[headerSourceQueue])
	assert.Equal(t, "e-1", sent.msg.Headers[headerEventID])
	assert.Equal(t, "d-1", sent.msg.Headers[headerDispatchID])
	assert.Equal(t, int32(2), sent.msg.Headers[headerAttempt])
	assert.Equal(t, 1, rec.acked)
	assert.Equal(t, 0, rec.rejected)
}

func TestSettleDeadLetterUndecodableOmitsEventHeaders(t *testing.T) {
	rec := &ackRecorder{}
	pub := &publishRecorder{}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	v := verdict{outcome: outcomeDeadLetter, attempt: 1, reason: "undecodable: invalid JSON"}
	require.NoError(t, c.settle(context.Background(), pub, StatusChangedQueue, sampleDelivery(t, rec, nil), v))

	require.Len(t, pub.sent, 1)
	assert.NotContains(t, pub.sent[0].msg.Headers, headerEventID)
	assert.Equal(t, "undecodable: invalid JSON", pub.sent[0].msg.Headers[headerDeathReason])
}

func TestSettleDeadLetterFallsBackToReject(t *testing.T) {
	rec := &ackRecorder{}
	pub := &publishRecorder{err: errors.New("channel closed")}
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	v := verdict{outcome: outcomeDeadLetter, attempt: 2, reason: "retries exhausted", evt: sampleEvent()}
	require.NoError(t, c.settle(context.Background(), pub, StatusChangedQueue, sampleDelivery(t, rec, nil), v))

	assert.Equal(t, 0, rec.acked)
	assert.Equal(t, 1, rec.rejected)
	assert.False(t, rec.requeue)
}

func TestPublisherRequiresBroker(t *testing.T) {
	var p *RabbitMQPublisher
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
	assert.NoError(t, p.Close())

	assert.Error(t, NewRabbitMQPublisher(nil).Publish(context.Background(), sampleEvent()))
}

func TestConsumerValidatesArguments(t *testing.T) {
	noop := func(context.Context, domain.DispatchStatusChanged) error { return nil }

	var nilConsumer *RabbitMQConsumer
	assert.Error(t, nilConsumer.Consume(context.Background(), StatusChangedQueue, noop))
	assert.NoError(t, nilConsumer.Close())

	c := &RabbitMQConsumer{broker: &Broker{}}
	assert.Error(t, c.Consume(context.Background(), "", noop))
	assert.Error(t, c.Consume(context.Background(), StatusChangedQueue, nil))
}

func TestDialRequiresURL(t *testing.T) {
	_, err := Dial(context.Background(), " ", zap.NewNop())
	assert.Error(t, err)
}
