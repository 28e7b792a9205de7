package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifyco/notify-engine/internal/repository"
	"gorm.io/gorm"
)

func createCustomersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_customers",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.CustomerModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CustomerModel{})
		},
	}
}
