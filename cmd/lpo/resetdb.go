package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newResetDBCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drop and recreate every optimiser table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to reset the database without --yes")
			}
			log.Info().Msg("Starting database reset...")
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Reset(); err != nil {
				log.Error().Err(err).Msg("Failed to reset database")
				return err
			}
			log.Info().Msg("Database reset complete. Cycle counter, allocation states and snapshots are empty.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all persisted state")
	return cmd
}
