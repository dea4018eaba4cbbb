package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// InAppTopic is the Redis pub/sub channel a signed-in user's session listens on.
func InAppTopic(userID string) string {
	return "inapp:user:" + userID
}

type inAppPayload struct {
	ID         string    `json:"id"`
	DispatchID string    `json:"dispatchId"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Link       string    `json:"link,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// RedisPublisher is the subset of the go-redis client the in-app sender uses.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// InAppSender publishes notifications to the recipient user's Redis channel.
// Recipient must be the user id.
type InAppSender struct {
	client RedisPublisher
	now    func() time.Time
}

func NewInAppSender(client RedisPublisher) (*InAppSender, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &InAppSender{client: client, now: time.Now}, nil
}

func (s *InAppSender) Medium() domain.Medium { return domain.MediumInApp }

func (s *InAppSender) Send(ctx context.Context, msg Message) (*Delivery, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	payload := inAppPayload{
		ID:         uuid.NewString(),
		DispatchID: msg.DispatchID,
		Title:      msg.Subject,
		Body:       msg.Body,
		Link:       msg.Link,
		SentAt:     s.now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode in-app payload: %w", err)
	}

	if err := s.client.Publish(ctx, InAppTopic(msg.Recipient), raw).Err(); err != nil {
		return nil, &ChannelSendError{
			Medium:    domain.MediumInApp,
			Message:   "redis publish failed",
			Transient: true,
			Cause:     err,
		}
	}

	return &Delivery{MessageID: payload.ID}, nil
}
