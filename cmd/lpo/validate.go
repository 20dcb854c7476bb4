package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/validator"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the registry and build every strategy of NETWORK without touching the database or RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			blueprints, err := deployStrategies(validator.New(config.TickSpacing), nil)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, bp := range blueprints {
				fmt.Fprintf(w, "%s: %d sub-vaults, token limit %s %s\n",
					bp.Name, len(bp.SubVaults), bp.Create.Params.TokenLimit, bp.Create.Token.Symbol)
				for i, sv := range bp.SubVaults {
					weight := bp.Create.Weights[i]
					fmt.Fprintf(w, "  #%d %-16s ticks [%d, %d] weight %d sigma %s%%\n",
						sv.ID, sv.Pool, sv.TickLower, sv.TickUpper, weight.Weight, fixedpoint.FormatWad(weight.Sigma))
				}
			}
			return nil
		},
	}
}
