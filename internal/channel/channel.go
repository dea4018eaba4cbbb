// Package channel delivers rendered dispatch notifications over SMS, email
// and in-app transports.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// Message is one rendered notification addressed to a single recipient.
// Recipient is a phone number, an email address or a user id depending on
// the medium.
type Message struct {
	DispatchID string
	WorkerID   string
	Medium     domain.Medium
	Recipient  string
	Subject    string
	Body       string
	Link       string
}

func (m Message) Validate() error {
	if !m.Medium.IsValid() {
		return fmt.Errorf("%w: invalid medium %q", domain.ErrValidation, m.Medium)
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("%w: %s recipient is required", domain.ErrValidation, m.Medium)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}
	return nil
}

// Delivery is what a transport reports back for an accepted message.
type Delivery struct {
	MessageID  string
	StatusCode int
}

// Sender is the outbound port for one medium.
type Sender interface {
	Medium() domain.Medium
	Send(ctx context.Context, msg Message) (*Delivery, error)
}

// Senders maps each medium to the sender that handles it.
type Senders map[domain.Medium]Sender

func NewSenders(senders ...Sender) Senders {
	out := make(Senders, len(senders))
	for _, s := range senders {
		if s == nil {
			continue
		}
		out[s.Medium()] = s
	}
	return out
}

func (s Senders) For(medium domain.Medium) (Sender, bool) {
	sender, ok := s[medium]
	return sender, ok
}
