package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/app"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/config"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/signature"
)

var accountID string

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage webhook signing secrets",
}

var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and store a new webhook secret for an account",
	Long: `Generates a random webhook secret, stores it on the account and prints it
once. Paste the value into the Guesty webhook settings.`,
	Args: cobra.NoArgs,
	RunE: runSecretGenerate,
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Exchange a token and call the Guesty API for an account",
	Args:  cobra.NoArgs,
	RunE:  runTestConnection,
}

func init() {
	secretGenerateCmd.Flags().StringVar(&accountID, "account", "", "account id (required)")
	_ = secretGenerateCmd.MarkFlagRequired("account")
	secretCmd.AddCommand(secretGenerateCmd)

	testConnectionCmd.Flags().StringVar(&accountID, "account", "", "account id (required)")
	_ = testConnectionCmd.MarkFlagRequired("account")

	rootCmd.AddCommand(secretCmd, testConnectionCmd)
}

func runSecretGenerate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app.App, cfg *config.Config, logger *logging.Logger) error {
		if cfg.Database.Driver == "memory" {
			logger.Warn("database.driver is memory; the generated secret will not persist")
		}
		secret, err := signature.GenerateSecret()
		if err != nil {
			return err
		}
		if err := a.Repo.SetWebhookSecret(cmd.Context(), accountID, secret); err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return fmt.Errorf("account %q not found", accountID)
			}
			return err
		}
		plain(cmd.OutOrStdout(), secret)
		warn(cmd.ErrOrStderr(), "Store this secret in Guesty now; it will not be shown again.")
		return nil
	})
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app.App, cfg *config.Config, logger *logging.Logger) error {
		if err := a.Credentials.TestConnection(cmd.Context(), accountID); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		success(cmd.OutOrStdout(), "Guesty connection OK for account %s", accountID)
		return nil
	})
}
