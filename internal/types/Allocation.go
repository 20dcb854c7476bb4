/*

This file contains the types produced by the allocation policy: target fractions, the committed
allocation state and the per sub-vault scoring breakdown.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Decision is the outcome of a rebalance cycle.
type Decision string

const (
	DecisionRebalanceRequired Decision = "REBALANCE_REQUIRED"
	DecisionNoActionNeeded    Decision = "NO_ACTION_NEEDED"
)

// Fractions maps each sub-vault to its share of capital, Wad scaled. A full set sums to exactly 1e18.
type Fractions map[SubVaultID]sdkmath.Int

// Clone returns an independent copy.
func (f Fractions) Clone() Fractions {
	if f == nil {
		return nil
	}
	out := make(Fractions, len(f))
	for id, v := range f {
		out[id] = v
	}
	return out
}

// Get returns the fraction for id, zero when absent.
func (f Fractions) Get(id SubVaultID) sdkmath.Int {
	if v, ok := f[id]; ok && !v.IsNil() {
		return v
	}
	return sdkmath.ZeroInt()
}

// AllocationState is the last committed allocation of a strategy instance.
type AllocationState struct {
	StrategyID  StrategyID `json:"strategy_id"`
	Cycle       uint64     `json:"cycle"`
	Fractions   Fractions  `json:"fractions"`
	CommittedAt time.Time  `json:"committed_at"`
}

// ScoredSubVault is the scoring breakdown of one sub-vault in a cycle.
type ScoredSubVault struct {
	SubVaultID    SubVaultID  `json:"sub_vault_id"`
	Weight        uint64      `json:"weight"`
	EstimatedRate sdkmath.Int `json:"estimated_rate"` // mean rate from the tracker
	EffectiveRate sdkmath.Int `json:"effective_rate"` // max(EstimatedRate, MaxPossibleLowerBound)
	ObservedSigma sdkmath.Int `json:"observed_sigma"`
	Sigma         sdkmath.Int `json:"sigma"`  // max(configured, observed)
	Excess        sdkmath.Int `json:"excess"` // max(0, Sigma - Proximity)
	Score         sdkmath.Int `json:"score"`  // Wad
	Fraction      sdkmath.Int `json:"fraction"`
}

// AllocationResult is what one policy cycle computed, committed or not.
type AllocationResult struct {
	StrategyID StrategyID       `json:"strategy_id"`
	Cycle      uint64           `json:"cycle"`
	Decision   Decision         `json:"decision"`
	Targets    Fractions        `json:"targets"`
	Previous   Fractions        `json:"previous,omitempty"` // nil on the first cycle
	MaxDrift   sdkmath.Int      `json:"max_drift"`
	Scores     []ScoredSubVault `json:"scores"`
}
