package repository

import (
	"context"

	"github.com/samknelson/sirius-dispatch/internal/domain"
	"gorm.io/gorm"
)

type CommRepository interface {
	Create(ctx context.Context, c *domain.Comm) error
	ListByDispatch(ctx context.Context, dispatchID string) ([]domain.Comm, error)
}

type GormCommRepo struct {
	db *gorm.DB
}

func NewGormCommRepo(db *gorm.DB) *GormCommRepo {
	return &GormCommRepo{db: db}
}

func (r *GormCommRepo) Create(ctx context.Context, c *domain.Comm) error {
	model := commModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *commModelToDomain(model)
	}
	return nil
}

func (r *GormCommRepo) ListByDispatch(ctx context.Context, dispatchID string) ([]domain.Comm, error) {
	var models []CommModel
	err := r.db.WithContext(ctx).
		Where("dispatch_id = ?", dispatchID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	comms := make([]domain.Comm, 0, len(models))
	for i := range models {
		comms = append(comms, *commModelToDomain(&models[i]))
	}
	return comms, nil
}
