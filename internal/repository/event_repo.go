package repository

import (
	"context"
	"time"

	"github.com/samknelson/sirius-dispatch/internal/domain"
	"gorm.io/gorm"
)

type EventRepository interface {
	Create(ctx context.Context, e *domain.DispatchEvent) error
	ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]domain.DispatchEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Create(ctx context.Context, e *domain.DispatchEvent) error {
	model, err := eventModelFromDomain(e)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormEventRepo) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]domain.DispatchEvent, error) {
	var models []DispatchEventModel
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL AND created_at <= ?", createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.DispatchEvent, 0, len(models))
	for i := range models {
		e, err := eventModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, nil
}

// MarkPublished is idempotent; marking an already published event is a no-op.
func (r *GormEventRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&DispatchEventModel{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at).Error
}
