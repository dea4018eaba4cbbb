package domain

import (
	"fmt"
	"strings"
	"time"
)

// Dispatch is one worker's candidacy or assignment for one dispatch job.
type Dispatch struct {
	ID             string
	WorkerID       string
	JobID          string
	Status         DispatchStatus
	PreviousStatus *DispatchStatus
	CommIDs        []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (d *Dispatch) Validate() error {
	if strings.TrimSpace(d.WorkerID) == "" {
		return fmt.Errorf("%w: workerId is required", ErrValidation)
	}
	if strings.TrimSpace(d.JobID) == "" {
		return fmt.Errorf("%w: jobId is required", ErrValidation)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, d.Status)
	}
	return nil
}

// HasBeenNotified reports whether notification side effects already produced comms.
func (d *Dispatch) HasBeenNotified() bool {
	return d != nil && len(d.CommIDs) > 0
}

// DispatchJob is the job a dispatch targets. AcceptedCount is derived from
// the number of accepted dispatches and is never stored.
type DispatchJob struct {
	ID            string
	Title         string
	EmployerID    string
	JobTypeID     string
	WorkerCount   int
	AcceptedCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasOpenCapacity reports whether another worker may still be accepted.
func (j *DispatchJob) HasOpenCapacity() bool {
	return j != nil && j.AcceptedCount < j.WorkerCount
}

// DispatchJobType carries the notification configuration shared by jobs of a type.
type DispatchJobType struct {
	ID                string
	Name              string
	NotificationMedia []Medium
}

type Employer struct {
	ID   string
	Name string
}

// JobNotificationConfig is everything the notifier needs to know about a job.
type JobNotificationConfig struct {
	JobID        string
	JobTitle     string
	EmployerName string
	Media        []Medium
	DispatchURL  string
}
