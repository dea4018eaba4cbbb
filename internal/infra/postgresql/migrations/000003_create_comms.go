package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createCommsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_comms",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CommModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_comms_dispatch_id ON comms (dispatch_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CommModel{})
		},
	}
}
