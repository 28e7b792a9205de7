package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifyco/notify-engine/internal/repository"
	"gorm.io/gorm"
)

func createJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_jobs_customer_created ON jobs (customer_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_customer_status_type ON jobs (customer_id, status, type)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_customer_idempotency_key ON jobs (customer_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_retry ON jobs (next_retry_at) WHERE status = 'PENDING' AND next_retry_at IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobModel{})
		},
	}
}
