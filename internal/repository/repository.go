package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups the repositories a status change touches so they can
// share one transaction.
type Repositories struct {
	Dispatches DispatchRepository
	Jobs       JobRepository
	Events     EventRepository
}

// Transactor runs fn against repositories bound to a single storage transaction.
// fn's error rolls the transaction back and is returned unchanged.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, Repositories{
			Dispatches: NewGormDispatchRepo(tx),
			Jobs:       NewGormJobRepo(tx),
			Events:     NewGormEventRepo(tx),
		})
	})
}
