package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/postlane/publish-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_posts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.PostModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_posts_due ON posts (scheduled_at) WHERE status = 'SCHEDULED'`,
					`CREATE INDEX IF NOT EXISTS idx_posts_stuck ON posts (processing_started_at) WHERE status = 'POSTING'`,
					`CREATE INDEX IF NOT EXISTS idx_posts_reconcile ON posts (last_sync_at) WHERE backend_post_id IS NOT NULL AND status IN ('SCHEDULED', 'POSTING')`,
					`CREATE INDEX IF NOT EXISTS idx_posts_parent_id ON posts (parent_id) WHERE parent_id IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_posts_project_id ON posts (project_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PostModel{})
			},
		},
		{
			ID: "000002_create_post_retries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.PostRetryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_post_retries_due ON post_retries (scheduled_for) WHERE status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_post_retries_post_id ON post_retries (post_id)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_post_retries_attempt ON post_retries (post_id, attempt_number)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PostRetryModel{})
			},
		},
		{
			ID: "000003_create_post_logs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.PostLogModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_post_logs_post_id ON post_logs (post_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PostLogModel{})
			},
		},
	})

	return m.Migrate()
}
