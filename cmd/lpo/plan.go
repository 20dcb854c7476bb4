package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

func newPlanCmd() *cobra.Command {
	var observations int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run a single cycle without dispatching and print the cycle snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			// plan never dispatches, whatever LPO_MODE says
			config.Mode = config.ModePlan

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			// a cold tracker needs history before the first estimate
			for i := 0; i < observations; i++ {
				if err := a.optimiser.Observe(ctx); err != nil {
					log.Warn().Err(err).Int("round", i+1).Msg("Observation round finished with errors")
				}
			}

			snapshots, cycleErr := a.optimiser.RunCycle(ctx)
			if snapshots == nil {
				snapshots = []types.CycleSnapshot{}
			}
			out, err := json.MarshalIndent(snapshots, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return cycleErr
		},
	}
	cmd.Flags().IntVar(&observations, "observations", 1, "observation rounds to run before the cycle")
	return cmd
}
