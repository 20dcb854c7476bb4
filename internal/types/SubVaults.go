/*

This file contains the types for sub-vaults: the static setup of each interest-rate-swap LP
position and the policy tuning that drives its allocation weight.

All fixed-point fields are Wad scaled (1e18) unless stated otherwise. Rates and sigma are
percent-Wad, so 1e18 is 1% per year.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// SubVaultID is the index of the sub-vault inside the vault registry (the sub-vault NFT).
type SubVaultID uint64

// SubVaultConfig is fixed at registration and only changed by an admin reconfiguration.
type SubVaultConfig struct {
	ID                         SubVaultID     `json:"id"`
	Pool                       string         `json:"pool"`                          // e.g., "aUSDC_v4"
	MarginEngine               common.Address `json:"margin_engine"`                 // opaque handle to the margin engine
	TickLower                  int32          `json:"tick_lower"`                    // multiple of the tick spacing
	TickUpper                  int32          `json:"tick_upper"`                    // strictly above TickLower
	Leverage                   sdkmath.Int    `json:"leverage"`                      // Wad, >= 0
	MarginMultiplierPostUnwind sdkmath.Int    `json:"margin_multiplier_post_unwind"` // Wad, >= 0
	LookbackWindowSeconds      int64          `json:"lookback_window_seconds"`       // 0 disables time eviction
}

// LookbackWindow returns the history window as a duration.
func (c SubVaultConfig) LookbackWindow() time.Duration {
	return time.Duration(c.LookbackWindowSeconds) * time.Second
}

// StrategyWeightConfig is the per sub-vault tuning read by the allocation policy.
type StrategyWeightConfig struct {
	Sigma                 sdkmath.Int `json:"sigma"`                    // Wad, expected rate volatility (floor of the live estimate)
	MaxPossibleLowerBound sdkmath.Int `json:"max_possible_lower_bound"` // Wad, floor applied to the estimated rate before scoring
	Proximity             sdkmath.Int `json:"proximity"`                // Wad, volatility band tolerated without penalty
	Weight                uint64      `json:"weight"`                   // relative priority, 0 excludes the sub-vault from allocation
}

// SubVault pairs the static setup with its weight config, in instance order.
type SubVault struct {
	Config SubVaultConfig       `json:"config"`
	Weight StrategyWeightConfig `json:"weight"`
}

// Sample is one observation of a sub-vault's margin engine.
type Sample struct {
	Rate      sdkmath.Int `json:"rate"`      // percent-Wad
	Liquidity sdkmath.Int `json:"liquidity"` // raw VAMM liquidity units
	Timestamp time.Time   `json:"timestamp"`
}

// Estimate is the rolling statistics of one sub-vault over its lookback window.
type Estimate struct {
	SubVaultID SubVaultID  `json:"sub_vault_id"`
	Rate       sdkmath.Int `json:"rate"`      // mean rate over the window, percent-Wad
	Sigma      sdkmath.Int `json:"sigma"`     // population standard deviation, percent-Wad
	Latest     sdkmath.Int `json:"latest"`    // most recent rate
	Liquidity  sdkmath.Int `json:"liquidity"` // most recent liquidity
	Samples    int         `json:"samples"`
	From       time.Time   `json:"from"`
	To         time.Time   `json:"to"`
}
