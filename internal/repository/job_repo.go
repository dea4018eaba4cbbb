package repository

import (
	"context"
	"errors"

	"github.com/lib/pq"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobRepository interface {
	GetByID(ctx context.Context, id string) (*domain.DispatchJob, error)
	LockByID(ctx context.Context, id string) (*domain.DispatchJob, error)
	GetNotificationConfig(ctx context.Context, jobID string) (*domain.JobNotificationConfig, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.DispatchJob, error) {
	return r.load(ctx, r.db.WithContext(ctx), id)
}

// LockByID reads the job with a row lock so capacity cannot move underneath
// the caller. It must run inside a transaction.
func (r *GormJobRepo) LockByID(ctx context.Context, id string) (*domain.DispatchJob, error) {
	return r.load(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormJobRepo) load(ctx context.Context, query *gorm.DB, id string) (*domain.DispatchJob, error) {
	var model DispatchJobModel
	err := query.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var accepted int64
	err = r.db.WithContext(ctx).
		Model(&DispatchModel{}).
		Where("job_id = ? AND status = ?", id, domain.StatusAccepted).
		Count(&accepted).Error
	if err != nil {
		return nil, err
	}

	return jobModelToDomain(&model, int(accepted)), nil
}

type jobNotificationRow struct {
	JobID        string         `gorm:"column:job_id"`
	JobTitle     string         `gorm:"column:job_title"`
	EmployerName string         `gorm:"column:employer_name"`
	Media        pq.StringArray `gorm:"column:notification_media"`
}

// GetNotificationConfig resolves the job title, employer name and configured
// media. DispatchURL is left for the caller to build.
func (r *GormJobRepo) GetNotificationConfig(ctx context.Context, jobID string) (*domain.JobNotificationConfig, error) {
	var rows []jobNotificationRow
	err := r.db.WithContext(ctx).
		Table("dispatch_jobs").
		Select("dispatch_jobs.id AS job_id, dispatch_jobs.title AS job_title, employers.name AS employer_name, dispatch_job_types.notification_media").
		Joins("JOIN employers ON employers.id = dispatch_jobs.employer_id").
		Joins("JOIN dispatch_job_types ON dispatch_job_types.id = dispatch_jobs.job_type_id").
		Where("dispatch_jobs.id = ?", jobID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}

	row := rows[0]
	return &domain.JobNotificationConfig{
		JobID:        row.JobID,
		JobTitle:     row.JobTitle,
		EmployerName: row.EmployerName,
		Media:        mediaFromStrings(row.Media),
	}, nil
}
