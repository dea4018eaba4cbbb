package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDispatchEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_dispatch_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_events_unpublished ON dispatch_events (created_at) WHERE published_at IS NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchEventModel{})
		},
	}
}
