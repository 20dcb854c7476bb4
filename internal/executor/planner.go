package executor

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidTargets  = errors.New("target fractions contain invalid values")
	ErrInvalidHoldings = errors.New("holdings contain invalid values")
)

// Config holds the configuration for creating a new Executor
type Config struct {
	// MinInstructionAmount suppresses moves smaller than this many token units.
	MinInstructionAmount sdkmath.Int
}

// Executor turns target fractions into withdraw-then-deposit instructions.
type Executor struct {
	minAmount sdkmath.Int
	logger    zerolog.Logger
}

// New returns an executor. A nil MinInstructionAmount means no minimum.
func New(cfg Config) (*Executor, error) {
	minAmount := cfg.MinInstructionAmount
	if minAmount.IsNil() {
		minAmount = sdkmath.ZeroInt()
	}
	if minAmount.IsNegative() {
		return nil, fmt.Errorf("minimum instruction amount cannot be negative: %s", minAmount)
	}
	return &Executor{
		minAmount: minAmount,
		logger:    logger.GetForComponent("executor"),
	}, nil
}

// Plan sizes the instructions that move holdings to targets. Withdrawals come first, in
// sub-vault order, then deposits in sub-vault order. A deposit never exceeds the idle balance
// plus everything withdrawn before it.
func (x *Executor) Plan(inst *types.StrategyInstance, targets types.Fractions, holdings types.Holdings) (*types.InstructionPlan, error) {
	log := x.logger.With().Str("instance", string(inst.ID)).Logger()

	// ===== INPUT VALIDATION =====
	if err := validateInputs(inst, targets, holdings); err != nil {
		log.Error().Err(err).Msg("Input validation failed")
		return nil, err
	}

	// ===== TOTAL CAPITAL =====
	total := holdings.Idle
	for _, sv := range inst.SubVaults {
		var err error
		if total, err = fixedpoint.Add(total, balanceOf(holdings, sv.Config.ID)); err != nil {
			return nil, fmt.Errorf("summing holdings: %w", err)
		}
	}

	plan := &types.InstructionPlan{
		StrategyID:      inst.ID,
		GoalDescription: "Rebalance to target allocations",
		Instructions:    []types.Instruction{},
		TotalCapital:    total,
		IdleBefore:      holdings.Idle,
	}

	targetAmounts := make(map[types.SubVaultID]sdkmath.Int, len(inst.SubVaults))
	for _, sv := range inst.SubVaults {
		amount, err := fixedpoint.MulDiv(total, targets.Get(sv.Config.ID), fixedpoint.WAD)
		if err != nil {
			return nil, fmt.Errorf("target amount for sub-vault %d: %w", sv.Config.ID, err)
		}
		targetAmounts[sv.Config.ID] = amount
	}

	// ===== WITHDRAWALS =====
	budget := holdings.Idle
	for _, sv := range inst.SubVaults {
		id := sv.Config.ID
		current, target := balanceOf(holdings, id), targetAmounts[id]
		if !current.GT(target) {
			continue
		}
		delta := current.Sub(target)
		if delta.LT(x.minAmount) {
			log.Debug().Uint64("subVaultID", uint64(id)).Str("amount", delta.String()).Msg("Skipping dust withdrawal")
			continue
		}
		plan.Instructions = append(plan.Instructions, types.Instruction{
			Type:          types.InstructionWithdraw,
			SubVaultID:    id,
			Amount:        delta,
			CurrentAmount: current,
			TargetAmount:  target,
		})
		budget = budget.Add(delta)
	}

	// ===== DEPOSITS =====
	for _, sv := range inst.SubVaults {
		id := sv.Config.ID
		current, target := balanceOf(holdings, id), targetAmounts[id]
		if !target.GT(current) {
			continue
		}
		amount := sdkmath.MinInt(target.Sub(current), budget)
		if amount.IsZero() || amount.LT(x.minAmount) {
			log.Debug().Uint64("subVaultID", uint64(id)).Str("amount", amount.String()).Msg("Skipping dust or unfunded deposit")
			continue
		}
		plan.Instructions = append(plan.Instructions, types.Instruction{
			Type:          types.InstructionDeposit,
			SubVaultID:    id,
			Amount:        amount,
			CurrentAmount: current,
			TargetAmount:  target,
		})
		budget = budget.Sub(amount)
	}
	plan.IdleAfter = budget

	log.Info().
		Int("withdrawals", len(plan.Withdrawals())).
		Int("deposits", len(plan.Deposits())).
		Str("totalCapital", total.String()).
		Str("idleAfter", budget.String()).
		Msg("Instruction plan generated")
	return plan, nil
}

// HeldFractions returns the Wad share of total capital deployed to each sub-vault of inst,
// rounded down. Idle capital counts towards the total. It returns nil when nothing is held.
func HeldFractions(inst *types.StrategyInstance, holdings types.Holdings) (types.Fractions, error) {
	if inst == nil {
		return nil, errors.New("strategy instance cannot be nil")
	}
	if holdings.Idle.IsNil() || holdings.Idle.IsNegative() {
		return nil, errors.Join(ErrInvalidHoldings, errors.New("idle balance must be a non-negative integer"))
	}
	total := holdings.Idle
	for _, sv := range inst.SubVaults {
		var err error
		if total, err = fixedpoint.Add(total, balanceOf(holdings, sv.Config.ID)); err != nil {
			return nil, fmt.Errorf("summing holdings: %w", err)
		}
	}
	if total.IsZero() {
		return nil, nil
	}

	held := make(types.Fractions, len(inst.SubVaults))
	for _, sv := range inst.SubVaults {
		f, err := fixedpoint.MulDiv(balanceOf(holdings, sv.Config.ID), fixedpoint.WAD, total)
		if err != nil {
			return nil, fmt.Errorf("held fraction of sub-vault %d: %w", sv.Config.ID, err)
		}
		held[sv.Config.ID] = f
	}
	return held, nil
}

func balanceOf(h types.Holdings, id types.SubVaultID) sdkmath.Int {
	if b, ok := h.Balances[id]; ok && !b.IsNil() {
		return b
	}
	return sdkmath.ZeroInt()
}

// validateInputs performs validation of all input parameters
func validateInputs(inst *types.StrategyInstance, targets types.Fractions, holdings types.Holdings) error {
	if inst == nil {
		return errors.New("strategy instance cannot be nil")
	}
	if holdings.Idle.IsNil() || holdings.Idle.IsNegative() {
		return errors.Join(ErrInvalidHoldings, errors.New("idle balance must be a non-negative integer"))
	}
	for id, b := range holdings.Balances {
		if _, ok := inst.Find(id); !ok {
			return errors.Join(ErrInvalidHoldings, fmt.Errorf("%w: balance for sub-vault %d", types.ErrUnknownSubVault, id))
		}
		if !b.IsNil() && b.IsNegative() {
			return errors.Join(ErrInvalidHoldings, fmt.Errorf("balance for sub-vault %d is negative", id))
		}
	}

	if targets == nil {
		return errors.Join(ErrInvalidTargets, errors.New("target fractions are nil"))
	}
	total := sdkmath.ZeroInt()
	for id, f := range targets {
		if _, ok := inst.Find(id); !ok {
			return errors.Join(ErrInvalidTargets, fmt.Errorf("%w: target for sub-vault %d", types.ErrUnknownSubVault, id))
		}
		if f.IsNil() || f.IsNegative() || f.GT(fixedpoint.WAD) {
			return errors.Join(ErrInvalidTargets, fmt.Errorf("fraction for sub-vault %d out of range: %s", id, f))
		}
		total = total.Add(f)
	}
	if !total.Equal(fixedpoint.WAD) {
		return errors.Join(ErrInvalidTargets, fmt.Errorf("fractions sum to %s, not 1e18", total))
	}
	return nil
}
