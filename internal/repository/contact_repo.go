package repository

import (
	"context"
	"errors"

	"github.com/samknelson/sirius-dispatch/internal/domain"
	"gorm.io/gorm"
)

type ContactRepository interface {
	GetWorkerContactInfo(ctx context.Context, workerID string) (*domain.WorkerContactInfo, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

// GetWorkerContactInfo walks worker -> contact -> phones and linked user.
// A missing worker or contact is ErrNotFound; missing phones or user are not.
func (r *GormContactRepo) GetWorkerContactInfo(ctx context.Context, workerID string) (*domain.WorkerContactInfo, error) {
	db := r.db.WithContext(ctx)

	var worker WorkerModel
	err := db.First(&worker, "id = ?", workerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var contact ContactModel
	err = db.First(&contact, "id = ?", worker.ContactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var phones []PhoneNumberModel
	err = db.Where("contact_id = ?", contact.ID).
		Order("is_primary DESC, created_at ASC").
		Find(&phones).Error
	if err != nil {
		return nil, err
	}

	numbers := make([]domain.PhoneNumber, 0, len(phones))
	for _, p := range phones {
		numbers = append(numbers, domain.PhoneNumber{
			ID:        p.ID,
			ContactID: p.ContactID,
			Number:    p.Number,
			IsPrimary: p.IsPrimary,
			IsActive:  p.IsActive,
		})
	}

	info := &domain.WorkerContactInfo{
		WorkerID:    worker.ID,
		ContactID:   contact.ID,
		DisplayName: contact.DisplayName,
		Phone:       domain.PickPhone(numbers),
	}
	if contact.Email != nil {
		info.Email = *contact.Email
	}

	var users []UserModel
	err = db.Where("contact_id = ?", contact.ID).
		Order("created_at ASC").
		Limit(1).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	if len(users) > 0 {
		userID := users[0].ID
		info.UserID = &userID
	}

	return info, nil
}
