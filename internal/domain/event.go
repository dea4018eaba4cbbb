package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventDispatchStatusChanged is the name the status-changed event is published under.
const EventDispatchStatusChanged = "dispatch.status_changed"

// DispatchStatusChanged is emitted after every committed status change.
type DispatchStatusChanged struct {
	EventID        string         `json:"eventId"`
	DispatchID     string         `json:"dispatchId"`
	WorkerID       string         `json:"workerId"`
	JobID          string         `json:"jobId"`
	Status         DispatchStatus `json:"status"`
	PreviousStatus DispatchStatus `json:"previousStatus"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

func (e DispatchStatusChanged) Validate() error {
	if strings.TrimSpace(e.DispatchID) == "" {
		return fmt.Errorf("%w: dispatchId is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if !e.PreviousStatus.IsValid() {
		return fmt.Errorf("%w: invalid previous status %q", ErrValidation, e.PreviousStatus)
	}
	return nil
}

// IsFirstNotification reports whether the event moved a dispatch into notified
// from somewhere else. Re-entering notified from notified never counts.
func (e DispatchStatusChanged) IsFirstNotification() bool {
	return e.Status == StatusNotified && e.PreviousStatus != StatusNotified
}

// DispatchEvent is the outbox row written in the same transaction as the
// status change it describes.
type DispatchEvent struct {
	ID          string
	DispatchID  string
	Name        string
	Payload     DispatchStatusChanged
	PublishedAt *time.Time
	CreatedAt   time.Time
}
