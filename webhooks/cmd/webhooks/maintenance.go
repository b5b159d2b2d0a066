package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/app"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/config"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/seed"
)

var (
	olderThanDays int
	seedFile      string
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete event records older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load accounts, units and listings from a YAML fixture file",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

func init() {
	pruneCmd.Flags().IntVar(&olderThanDays, "older-than-days", 0, "retention in days (default: store.retention_days)")
	seedCmd.Flags().StringVar(&seedFile, "file", "", "fixture file (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(pruneCmd, seedCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app.App, cfg *config.Config, logger *logging.Logger) error {
		retention := cfg.Store.Retention()
		if olderThanDays > 0 {
			retention = time.Duration(olderThanDays) * 24 * time.Hour
		}
		if retention <= 0 {
			return fmt.Errorf("retention must be positive")
		}
		n, err := a.Coordinator.Prune(cmd.Context(), retention)
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Pruned %d event records older than %s", n, retention)
		return nil
	})
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := seed.Load(seedFile)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(a *app.App, cfg *config.Config, logger *logging.Logger) error {
		res, err := seed.Apply(cmd.Context(), a.Repo, f, logger.Logger)
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Seeded %d accounts, %d units, %d listings", res.Accounts, res.Units, res.Listings)
		return nil
	})
}
