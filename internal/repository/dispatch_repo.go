package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// conflictingStatuses are the statuses that tie a worker to a job.
var conflictingStatuses = []domain.DispatchStatus{domain.StatusNotified, domain.StatusAccepted}

type DispatchRepository interface {
	Create(ctx context.Context, d *domain.Dispatch) error
	GetByID(ctx context.Context, id string) (*domain.Dispatch, error)
	ListByJob(ctx context.Context, jobID string) ([]domain.Dispatch, error)
	LockByID(ctx context.Context, id string) (*domain.Dispatch, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.DispatchStatus) error
	AppendCommIDs(ctx context.Context, id string, commIDs []string) error
	HasConflict(ctx context.Context, workerID, jobID string) (bool, error)
	LockWorker(ctx context.Context, workerID string) error
}

type GormDispatchRepo struct {
	db *gorm.DB
}

func NewGormDispatchRepo(db *gorm.DB) *GormDispatchRepo {
	return &GormDispatchRepo{db: db}
}

func (r *GormDispatchRepo) Create(ctx context.Context, d *domain.Dispatch) error {
	model := dispatchModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *dispatchModelToDomain(model)
	}
	return nil
}

func (r *GormDispatchRepo) GetByID(ctx context.Context, id string) (*domain.Dispatch, error) {
	var model DispatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dispatchModelToDomain(&model), nil
}

func (r *GormDispatchRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Dispatch, error) {
	var models []DispatchModel
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	dispatches := make([]domain.Dispatch, 0, len(models))
	for i := range models {
		dispatches = append(dispatches, *dispatchModelToDomain(&models[i]))
	}
	return dispatches, nil
}

// LockByID reads the dispatch with a row lock. It must run inside a transaction.
func (r *GormDispatchRepo) LockByID(ctx context.Context, id string) (*domain.Dispatch, error) {
	var model DispatchModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dispatchModelToDomain(&model), nil
}

// UpdateStatus moves the dispatch from one status to another. The write only
// applies while the row is still in from; otherwise ErrConflict.
func (r *GormDispatchRepo) UpdateStatus(ctx context.Context, id string, from, to domain.DispatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":          to,
			"previous_status": from,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDispatchRepo) AppendCommIDs(ctx context.Context, id string, commIDs []string) error {
	if len(commIDs) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&DispatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"comm_ids":   gorm.Expr("array_cat(comm_ids, ?)", pq.StringArray(commIDs)),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LockWorker takes a transaction-scoped advisory lock on the worker, so
// conflict checks for the same worker on different jobs run one at a time.
// It must run inside a transaction.
func (r *GormDispatchRepo) LockWorker(ctx context.Context, workerID string) error {
	return r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", workerLockKey(workerID)).Error
}

func workerLockKey(workerID string) string {
	return "sirius.dispatch.worker:" + workerID
}

// HasConflict reports whether the worker is notified on, or accepted to, a job
// other than jobID.
func (r *GormDispatchRepo) HasConflict(ctx context.Context, workerID, jobID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DispatchModel{}).
		Where("worker_id = ? AND job_id <> ? AND status IN ?", workerID, jobID, conflictingStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
