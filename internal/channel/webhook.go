package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	DispatchID string `json:"dispatchId"`
	WorkerID   string `json:"workerId"`
	To         string `json:"to"`
	Medium     string `json:"medium"`
	Subject    string `json:"subject,omitempty"`
	Content    string `json:"content"`
	Link       string `json:"link,omitempty"`
}

// WebhookSender posts messages for one medium to an HTTP gateway. It stands in
// for SNS or SES in development and test environments.
type WebhookSender struct {
	client   *resty.Client
	endpoint string
	medium   domain.Medium
}

func NewWebhookSender(medium domain.Medium, endpoint string) (*WebhookSender, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookSenderWithClient(medium, endpoint, client)
}

func NewWebhookSenderWithClient(medium domain.Medium, endpoint string, client *resty.Client) (*WebhookSender, error) {
	if !medium.IsValid() {
		return nil, fmt.Errorf("invalid medium %q", medium)
	}
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookSender{
		client:   client,
		endpoint: trimmedEndpoint,
		medium:   medium,
	}, nil
}

func (s *WebhookSender) Medium() domain.Medium { return s.medium }

func (s *WebhookSender) Send(ctx context.Context, msg Message) (*Delivery, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("webhook sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	reqBody := webhookRequest{
		DispatchID: msg.DispatchID,
		WorkerID:   msg.WorkerID,
		To:         msg.Recipient,
		Medium:     s.medium.String(),
		Subject:    msg.Subject,
		Content:    msg.Body,
		Link:       msg.Link,
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(s.endpoint)
	if err != nil {
		return nil, &ChannelSendError{
			Medium:    s.medium,
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ChannelSendError{
			Medium:    s.medium,
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Delivery{
			StatusCode: statusCode,
			MessageID:  webhookMessageID(response),
		}, nil
	}

	return nil, &ChannelSendError{
		Medium:     s.medium,
		StatusCode: statusCode,
		Message:    webhookErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func webhookMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
