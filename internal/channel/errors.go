package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// ChannelSendError classifies transport failures as transient or permanent.
type ChannelSendError struct {
	Medium     domain.Medium
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ChannelSendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if e.Medium != "" {
		parts = append(parts, fmt.Sprintf("%s send failed", e.Medium))
	} else {
		parts = append(parts, "send failed")
	}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ChannelSendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a send might succeed if attempted again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sendErr *ChannelSendError
	if errors.As(err, &sendErr) {
		return sendErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureReason is a short, low-cardinality label for metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrValidation):
		return "invalid_message"
	case IsTransient(err):
		return "transient_error"
	default:
		return "permanent_error"
	}
}
