package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ratepro/internal/config"
	"ratepro/internal/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		logrus.Info("Starting database migration...")
		if err := db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		for _, stmt := range migrationIndexes {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
		logrus.Info("Database migration completed successfully")
		return nil
	},
}

var migrationIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_responses_tenant_survey ON responses(tenant_id, survey_id)",
	"CREATE INDEX IF NOT EXISTS idx_actions_tenant_status_created ON actions(tenant_id, status, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_contacts_tenant_status ON contacts(tenant_id, status)",
	"CREATE INDEX IF NOT EXISTS idx_recognition_entries_tenant_created ON recognition_entries(tenant_id, created_at)",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
