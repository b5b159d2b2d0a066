package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/app"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Guesty webhook ingestion service",
	Long: `webhooks receives signed Guesty webhook deliveries, records every
delivery in the event store and applies reservations, listings, calendar
and pricing changes to the property catalog.`,
	Version:       "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/srg/webhooks/config.yaml)")
}

// loadRuntime reads configuration and builds the process logger.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("webhooks"))
	logging.SetDefault(logger)
	return cfg, logger, nil
}

// withApp builds the full component graph for a one-shot command and closes
// it afterwards.
func withApp(ctx context.Context, fn func(a *app.App, cfg *config.Config, logger *logging.Logger) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, cfg, logger)
}
