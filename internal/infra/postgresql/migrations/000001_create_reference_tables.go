package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createReferenceTables() *gormigrate.Migration {
	models := []any{
		&repository.EmployerModel{},
		&repository.DispatchJobTypeModel{},
		&repository.DispatchJobModel{},
		&repository.ContactModel{},
		&repository.WorkerModel{},
		&repository.PhoneNumberModel{},
		&repository.UserModel{},
	}

	return &gormigrate.Migration{
		ID: "000001_create_reference_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(models...); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_phone_numbers_contact_id ON phone_numbers (contact_id, is_primary DESC, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_users_contact_id ON users (contact_id) WHERE contact_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_workers_contact_id ON workers (contact_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			for i := len(models) - 1; i >= 0; i-- {
				if err := tx.Migrator().DropTable(models[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
