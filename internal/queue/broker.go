package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialTimeout      = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

var errBrokerClosed = errors.New("rabbitmq broker is closed")

// Broker owns the RabbitMQ connection shared by the publisher and consumers.
// A lost connection is noticed through NotifyClose and redialled on next use;
// the dispatch topology is declared on every new connection.
type Broker struct {
	url    string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	publishCh *amqp.Channel
	closed    bool
}

// Dial connects to url, retrying until the connection is up or the dial
// timeout passes.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Broker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Broker{url: url, logger: logger}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if _, err := b.connection(dialCtx); err != nil {
		return nil, err
	}
	return b, nil
}

// Healthy reports whether the broker currently holds an open connection.
func (b *Broker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.conn != nil && !b.conn.IsClosed()
}

func (b *Broker) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.closed = true
	b.conn = nil
	b.publishCh = nil
	b.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (b *Broker) connection(ctx context.Context) (*amqp.Connection, error) {
	wait := reconnectBackoff
	for {
		conn, err := b.connectOnce()
		if err == nil || errors.Is(err, errBrokerClosed) {
			return conn, err
		}

		b.logger.Warn("rabbitmq connection failed", zap.Error(err), zap.Duration("retryIn", wait))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (b *Broker) connectOnce() (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBrokerClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, err
	}
	if err := declareTopology(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	b.conn = conn
	b.publishCh = nil
	go b.watch(conn)

	b.logger.Info("rabbitmq connected", zap.String("exchange", EventsExchange))
	return conn, nil
}

func (b *Broker) watch(conn *amqp.Connection) {
	if closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok && closeErr != nil {
		b.logger.Warn("rabbitmq connection lost",
			zap.Int("code", closeErr.Code),
			zap.String("reason", closeErr.Reason),
		)
	}

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.publishCh = nil
	}
	b.mu.Unlock()
}

// channel opens a fresh channel for a consumer.
func (b *Broker) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	return ch, nil
}

// publishChannel returns the shared confirm-mode channel, opening it when
// needed.
func (b *Broker) publishChannel(ctx context.Context) (*amqp.Channel, error) {
	b.mu.Lock()
	ch := b.publishCh
	b.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}

	ch, err := b.channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishCh != nil && !b.publishCh.IsClosed() {
		_ = ch.Close()
		return b.publishCh, nil
	}
	b.publishCh = ch
	return ch, nil
}

func (b *Broker) dropPublishChannel(ch *amqp.Channel) {
	b.mu.Lock()
	if b.publishCh == ch {
		b.publishCh = nil
	}
	b.mu.Unlock()
	_ = ch.Close()
}

// declareTopology declares the events exchange, the status-changed work
// queue bound to every status, and its dead-letter queue. Messages the
// broker dead-letters go straight to the DLQ through the default exchange.
func declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open topology channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.ExchangeDeclare(EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", EventsExchange, err)
	}

	dlq := DLQName(StatusChangedQueue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(StatusChangedQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", StatusChangedQueue, err)
	}

	if err := ch.QueueBind(StatusChangedQueue, StatusChangedQueue+".*", EventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", StatusChangedQueue, err)
	}
	return nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
