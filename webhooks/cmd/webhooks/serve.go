package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/app"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook HTTP service",
	Long: `Starts the HTTP service. Account changes in the config file are applied
without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting webhook service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("database", cfg.Database.Driver),
	)

	a, err := app.New(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("failed to initialize webhook service", logging.Error(err))
		return err
	}
	defer a.Close()

	if err := config.Watch(cfgFile, logger.Logger, func(next *config.Config) {
		a.Reload(context.Background(), next)
	}); err != nil {
		logger.Warn("config hot reload disabled", logging.Error(err))
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("webhook service stopped with error", logging.Error(err))
		return err
	}
	logger.Info("webhook service stopped")
	return nil
}
