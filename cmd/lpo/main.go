package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/logger"
)

// main is the entry point for the LP optimiser.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lpo",
		Short:         "LP optimiser: allocates strategy capital across Voltz sub-vaults",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
			}
			if err := config.LoadConfig(); err != nil {
				log.Error().Err(err).Msg("Failed to load configuration")
				return err
			}
			if config.LogFile == "" {
				logger.Initialize(config.LogLevel)
				return nil
			}
			if err := logger.InitializeWithFile(config.LogLevel, config.LogFile); err != nil {
				log.Error().Err(err).Str("path", config.LogFile).Msg("Failed to open log file")
				return err
			}
			return nil
		},
	}
	root.AddCommand(newRunCmd(), newPlanCmd(), newValidateCmd(), newResetDBCmd())
	return root
}
