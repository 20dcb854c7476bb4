package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/vault"
)

// Dispatch sends the plan to the holding vault in plan order and stops at the first failure.
// The receipts cover every instruction attempted, including the failed one.
func (x *Executor) Dispatch(ctx context.Context, v vault.HoldingVault, plan *types.InstructionPlan) ([]types.InstructionReceipt, error) {
	log := x.logger.With().Str("instance", string(plan.StrategyID)).Logger()
	receipts := make([]types.InstructionReceipt, 0, len(plan.Instructions))

	for i, in := range plan.Instructions {
		if err := ctx.Err(); err != nil {
			return receipts, fmt.Errorf("dispatch interrupted before instruction %d: %w", i, err)
		}

		var (
			ref string
			err error
		)
		switch in.Type {
		case types.InstructionWithdraw:
			ref, err = v.Withdraw(ctx, in.SubVaultID, in.Amount)
		case types.InstructionDeposit:
			ref, err = v.Deposit(ctx, in.SubVaultID, in.Amount)
		default:
			err = fmt.Errorf("unknown instruction type %q", in.Type)
		}

		receipt := types.InstructionReceipt{
			Instruction: in,
			Success:     err == nil,
			TxRef:       ref,
			Timestamp:   time.Now(),
		}
		if err != nil {
			receipt.Message = err.Error()
			receipts = append(receipts, receipt)
			log.Error().
				Err(err).
				Int("index", i).
				Str("type", string(in.Type)).
				Uint64("subVaultID", uint64(in.SubVaultID)).
				Msg("Instruction failed, remaining instructions skipped")
			return receipts, fmt.Errorf("instruction %d (%s sub-vault %d): %w", i, in.Type, in.SubVaultID, err)
		}
		receipts = append(receipts, receipt)
		log.Info().
			Str("type", string(in.Type)).
			Uint64("subVaultID", uint64(in.SubVaultID)).
			Str("amount", in.Amount.String()).
			Str("ref", ref).
			Msg("Instruction dispatched")
	}
	return receipts, nil
}
