package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ananth-NQI/hotelchat-backend/database"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UseMemoryStore {
				return fmt.Errorf("USE_MEMORY_STORE is set, nothing to migrate")
			}

			db, err := database.Connect(cfg, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			log.Info().Msg("Running database migrations...")
			if err := storage.AutoMigrate(db); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			log.Info().Msg("Database migrations completed")
			return nil
		},
	}
}
