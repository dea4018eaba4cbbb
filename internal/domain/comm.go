package domain

import "time"

// CommStatus records the outcome of one outbound communication.
type CommStatus string

const (
	CommStatusSent   CommStatus = "sent"
	CommStatusFailed CommStatus = "failed"
)

func (s CommStatus) String() string { return string(s) }

// Comm is a persisted record of an attempted outbound communication.
type Comm struct {
	ID                string
	DispatchID        string
	// EventID is the status change that triggered the send.
	EventID           string
	WorkerID          string
	Medium            Medium
	Recipient         string
	Subject           string
	Body              string
	Status            CommStatus
	ProviderMessageID *string
	Error             *string
	CreatedAt         time.Time
}
