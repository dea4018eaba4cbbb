package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	return db, mock
}

var dispatchColumns = []string{"id", "worker_id", "job_id", "status", "previous_status", "comm_ids", "created_at", "updated_at"}

func TestGormDispatchRepoUpdateStatusConflict(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "dispatches" SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewGormDispatchRepo(db).UpdateStatus(context.Background(), "d-1", domain.StatusNotified, domain.StatusAccepted)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("UpdateStatus() error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormDispatchRepoUpdateStatusApplied(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "dispatches" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewGormDispatchRepo(db).UpdateStatus(context.Background(), "d-1", domain.StatusPending, domain.StatusNotified)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormDispatchRepoGetByID(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT \* FROM "dispatches" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(dispatchColumns).
			AddRow("d-1", "w-1", "j-1", "notified", "pending", "{c-1,c-2}", now, now))

	got, err := NewGormDispatchRepo(db).GetByID(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusNotified {
		t.Fatalf("Status = %s, want notified", got.Status)
	}
	if got.PreviousStatus == nil || *got.PreviousStatus != domain.StatusPending {
		t.Fatalf("PreviousStatus = %v, want pending", got.PreviousStatus)
	}
	if len(got.CommIDs) != 2 || got.CommIDs[0] != "c-1" || got.CommIDs[1] != "c-2" {
		t.Fatalf("CommIDs = %v, want [c-1 c-2]", got.CommIDs)
	}
}

func TestGormDispatchRepoGetByIDNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "dispatches"`).
		WillReturnRows(sqlmock.NewRows(dispatchColumns))

	_, err := NewGormDispatchRepo(db).GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestGormDispatchRepoLockByIDUsesRowLock(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT \* FROM "dispatches" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(dispatchColumns).
			AddRow("d-1", "w-1", "j-1", "pending", nil, "{}", now, now))

	got, err := NewGormDispatchRepo(db).LockByID(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("LockByID() error = %v", err)
	}
	if got.PreviousStatus != nil {
		t.Fatalf("PreviousStatus = %v, want nil", *got.PreviousStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormDispatchRepoHasConflict(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "dispatches" WHERE worker_id = \$1 AND job_id <> \$2 AND status IN`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	conflict, err := NewGormDispatchRepo(db).HasConflict(context.Background(), "w-1", "j-1")
	if err != nil {
		t.Fatalf("HasConflict() error = %v", err)
	}
	if !conflict {
		t.Fatal("HasConflict() = false, want true")
	}
}

func TestGormDispatchRepoAppendCommIDsSkipsEmpty(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	if err := NewGormDispatchRepo(db).AppendCommIDs(context.Background(), "d-1", nil); err != nil {
		t.Fatalf("AppendCommIDs() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected SQL issued: %v", err)
	}
}

func TestGormTransactorRollsBackOnError(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err := NewGormTransactor(db).WithinTransaction(context.Background(), func(ctx context.Context, repos Repositories) error {
		if repos.Dispatches == nil || repos.Jobs == nil || repos.Events == nil {
			t.Fatal("transaction repositories must be populated")
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithinTransaction() error = %v, want sentinel", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var jobColumns = []string{"id", "title", "employer_id", "job_type_id", "worker_count", "created_at", "updated_at"}

func TestGormJobRepoLockByIDCountsAcceptedUnderRowLock(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "dispatch_jobs" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("j-1", "Crane operator", "e-1", "jt-1", 2, now, now))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "dispatches" WHERE job_id = \$1 AND status = \$2`).
		WithArgs("j-1", domain.StatusAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	var job *domain.DispatchJob
	err := NewGormTransactor(db).WithinTransaction(context.Background(), func(ctx context.Context, repos Repositories) error {
		var err error
		job, err = repos.Jobs.LockByID(ctx, "j-1")
		return err
	})
	if err != nil {
		t.Fatalf("WithinTransaction() error = %v", err)
	}
	if job.WorkerCount != 2 || job.AcceptedCount != 1 {
		t.Fatalf("job = %+v, want workerCount 2 acceptedCount 1", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormJobRepoLockByIDNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "dispatch_jobs" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := NewGormJobRepo(db).LockByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LockByID() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("accepted count must not be queried for a missing job: %v", err)
	}
}

func TestGormDispatchRepoLockWorkerTakesAdvisoryLock(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("sirius.dispatch.worker:w-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "dispatches" WHERE worker_id = \$1 AND job_id <> \$2`).
		WithArgs("w-1", "j-1", domain.StatusNotified, domain.StatusAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	err := NewGormTransactor(db).WithinTransaction(context.Background(), func(ctx context.Context, repos Repositories) error {
		if err := repos.Dispatches.LockWorker(ctx, "w-1"); err != nil {
			return err
		}
		conflict, err := repos.Dispatches.HasConflict(ctx, "w-1", "j-1")
		if err != nil {
			return err
		}
		if conflict {
			t.Fatal("HasConflict() = true, want false")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTransaction() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
