package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/database"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(true)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(false)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(up bool) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("%w: migrations require database.driver=postgres", models.ErrConfiguration)
	}
	if up {
		return database.MigrateUp(cfg.Database.URL, logger.Logger)
	}
	return database.MigrateDown(cfg.Database.URL, logger.Logger)
}
