package repository

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// EmployerModel is the persistence model for employers.
type EmployerModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (EmployerModel) TableName() string {
	return "employers"
}

// DispatchJobTypeModel is the persistence model for dispatch_job_types.
type DispatchJobTypeModel struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	Name              string         `gorm:"type:varchar(255);not null"`
	NotificationMedia pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DispatchJobTypeModel) TableName() string {
	return "dispatch_job_types"
}

// DispatchJobModel is the persistence model for dispatch_jobs.
type DispatchJobModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Title       string `gorm:"type:varchar(255);not null"`
	EmployerID  string `gorm:"type:uuid;not null"`
	JobTypeID   string `gorm:"type:uuid;not null"`
	WorkerCount int    `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DispatchJobModel) TableName() string {
	return "dispatch_jobs"
}

// WorkerModel is the persistence model for workers.
type WorkerModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ContactID string `gorm:"type:uuid;not null"`
	CreatedAt time.Time
}

func (WorkerModel) TableName() string {
	return "workers"
}

// ContactModel is the persistence model for contacts.
type ContactModel struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	DisplayName string  `gorm:"type:varchar(255);not null"`
	Email       *string `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
}

func (ContactModel) TableName() string {
	return "contacts"
}

// PhoneNumberModel is the persistence model for phone_numbers.
type PhoneNumberModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ContactID string `gorm:"type:uuid;not null"`
	Number    string `gorm:"type:varchar(32);not null"`
	IsPrimary bool   `gorm:"not null;default:false"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (PhoneNumberModel) TableName() string {
	return "phone_numbers"
}

// UserModel is the persistence model for users. Only the contact link matters here.
type UserModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	ContactID *string `gorm:"type:uuid"`
	Email     string  `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// DispatchModel is the persistence model for dispatches.
type DispatchModel struct {
	ID             string                 `gorm:"type:uuid;primaryKey"`
	WorkerID       string                 `gorm:"type:uuid;not null"`
	JobID          string                 `gorm:"type:uuid;not null"`
	Status         domain.DispatchStatus  `gorm:"type:varchar(20);not null"`
	PreviousStatus *domain.DispatchStatus `gorm:"type:varchar(20)"`
	CommIDs        pq.StringArray         `gorm:"column:comm_ids;type:text[];not null;default:'{}'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DispatchModel) TableName() string {
	return "dispatches"
}

// CommModel is the persistence model for comms.
type CommModel struct {
	ID                string            `gorm:"type:uuid;primaryKey"`
	DispatchID        string            `gorm:"type:uuid;not null"`
	EventID           string            `gorm:"type:varchar(64);not null;default:''"`
	WorkerID          string            `gorm:"type:uuid;not null"`
	Medium            domain.Medium     `gorm:"type:varchar(10);not null"`
	Recipient         string            `gorm:"type:varchar(255);not null"`
	Subject           string            `gorm:"type:varchar(255)"`
	Body              string            `gorm:"type:text;not null"`
	Status            domain.CommStatus `gorm:"type:varchar(10);not null"`
	ProviderMessageID *string           `gorm:"type:varchar(255)"`
	Error             *string           `gorm:"type:text"`
	CreatedAt         time.Time
}

func (CommModel) TableName() string {
	return "comms"
}

// DispatchEventModel is the persistence model for the dispatch_events outbox.
type DispatchEventModel struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	DispatchID  string     `gorm:"type:uuid;not null"`
	Name        string     `gorm:"type:varchar(64);not null"`
	Payload     []byte     `gorm:"type:jsonb;not null"`
	PublishedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time
}

func (DispatchEventModel) TableName() string {
	return "dispatch_events"
}

func dispatchModelFromDomain(d *domain.Dispatch) *DispatchModel {
	if d == nil {
		return nil
	}

	commIDs := pq.StringArray(d.CommIDs)
	if commIDs == nil {
		commIDs = pq.StringArray{}
	}

	return &DispatchModel{
		ID:             d.ID,
		WorkerID:       d.WorkerID,
		JobID:          d.JobID,
		Status:         d.Status,
		PreviousStatus: d.PreviousStatus,
		CommIDs:        commIDs,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func dispatchModelToDomain(m *DispatchModel) *domain.Dispatch {
	if m == nil {
		return nil
	}

	return &domain.Dispatch{
		ID:             m.ID,
		WorkerID:       m.WorkerID,
		JobID:          m.JobID,
		Status:         m.Status,
		PreviousStatus: m.PreviousStatus,
		CommIDs:        append([]string{}, m.CommIDs...),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func jobModelToDomain(m *DispatchJobModel, acceptedCount int) *domain.DispatchJob {
	if m == nil {
		return nil
	}

	return &domain.DispatchJob{
		ID:            m.ID,
		Title:         m.Title,
		EmployerID:    m.EmployerID,
		JobTypeID:     m.JobTypeID,
		WorkerCount:   m.WorkerCount,
		AcceptedCount: acceptedCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func commModelFromDomain(c *domain.Comm) *CommModel {
	if c == nil {
		return nil
	}

	return &CommModel{
		ID:                c.ID,
		DispatchID:        c.DispatchID,
		EventID:           c.EventID,
		WorkerID:          c.WorkerID,
		Medium:            c.Medium,
		Recipient:         c.Recipient,
		Subject:           c.Subject,
		Body:              c.Body,
		Status:            c.Status,
		ProviderMessageID: c.ProviderMessageID,
		Error:             c.Error,
		CreatedAt:         c.CreatedAt,
	}
}

func commModelToDomain(m *CommModel) *domain.Comm {
	if m == nil {
		return nil
	}

	return &domain.Comm{
		ID:                m.ID,
		DispatchID:        m.DispatchID,
		EventID:           m.EventID,
		WorkerID:          m.WorkerID,
		Medium:            m.Medium,
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		Body:              m.Body,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}

func eventModelFromDomain(e *domain.DispatchEvent) (*DispatchEventModel, error) {
	if e == nil {
		return nil, nil
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	return &DispatchEventModel{
		ID:          e.ID,
		DispatchID:  e.DispatchID,
		Name:        e.Name,
		Payload:     payload,
		PublishedAt: e.PublishedAt,
		CreatedAt:   e.CreatedAt,
	}, nil
}

func eventModelToDomain(m *DispatchEventModel) (*domain.DispatchEvent, error) {
	if m == nil {
		return nil, nil
	}

	var payload domain.DispatchStatusChanged
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, err
	}

	return &domain.DispatchEvent{
		ID:          m.ID,
		DispatchID:  m.DispatchID,
		Name:        m.Name,
		Payload:     payload,
		PublishedAt: m.PublishedAt,
		CreatedAt:   m.CreatedAt,
	}, nil
}

func mediaFromStrings(values []string) []domain.Medium {
	media := make([]domain.Medium, 0, len(values))
	for _, v := range values {
		m, err := domain.ParseMedium(v)
		if err != nil {
			continue
		}
		media = append(media, m)
	}
	return media
}
