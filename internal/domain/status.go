package domain

import (
	"fmt"
	"strings"
)

// DispatchStatus represents where a worker's dispatch sits in the dispatch workflow.
type DispatchStatus string

const (
	StatusRequested DispatchStatus = "requested"
	StatusPending   DispatchStatus = "pending"
	StatusNotified  DispatchStatus = "notified"
	StatusAccepted  DispatchStatus = "accepted"
	StatusLayoff    DispatchStatus = "layoff"
	StatusResigned  DispatchStatus = "resigned"
	StatusDeclined  DispatchStatus = "declined"
)

// allStatuses is the canonical enumeration order used for every listing.
var allStatuses = []DispatchStatus{
	StatusRequested,
	StatusPending,
	StatusNotified,
	StatusAccepted,
	StatusLayoff,
	StatusResigned,
	StatusDeclined,
}

// AllStatuses returns every dispatch status in enumeration order.
func AllStatuses() []DispatchStatus {
	out := make([]DispatchStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s DispatchStatus) String() string { return string(s) }

func (s DispatchStatus) IsValid() bool {
	switch s {
	case StatusRequested, StatusPending, StatusNotified,
		StatusAccepted, StatusLayoff, StatusResigned, StatusDeclined:
		return true
	}
	return false
}

// IsTerminal reports whether no further workflow transition may leave s.
func (s DispatchStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusLayoff, StatusResigned, StatusDeclined:
		return true
	}
	return false
}

func (s DispatchStatus) IsActive() bool {
	return s.IsValid() && !s.IsTerminal()
}

// IsTerminal is the free-function form used by callers holding a raw status.
func IsTerminal(s DispatchStatus) bool { return s.IsTerminal() }

// IsInitial reports whether a dispatch may be created in status s.
func (s DispatchStatus) IsInitial() bool {
	return s == StatusRequested || s == StatusPending
}

func ParseDispatchStatus(s string) (DispatchStatus, error) {
	st := DispatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Medium represents a notification channel a job type can be configured with.
type Medium string

const (
	MediumSMS   Medium = "sms"
	MediumEmail Medium = "email"
	MediumInApp Medium = "inapp"
)

var allMedia = []Medium{MediumSMS, MediumEmail, MediumInApp}

// AllMedia returns the supported media in delivery order.
func AllMedia() []Medium {
	out := make([]Medium, len(allMedia))
	copy(out, allMedia)
	return out
}

func (m Medium) String() string { return string(m) }

func (m Medium) IsValid() bool {
	switch m {
	case MediumSMS, MediumEmail, MediumInApp:
		return true
	}
	return false
}

func ParseMedium(s string) (Medium, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	m := Medium(normalized)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid notification medium %q", ErrValidation, s)
	}
	return m, nil
}
