package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDispatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_dispatches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_dispatches_job_status ON dispatches (job_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_dispatches_worker_status ON dispatches (worker_id, status)`,
				`ALTER TABLE dispatches ADD CONSTRAINT chk_dispatches_status CHECK (status IN ('requested','pending','notified','accepted','layoff','resigned','declined'))`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchModel{})
		},
	}
}
