/*

This file contains the types for strategy instances: one ERC20 capital vault tied to an ordered,
immutable set of sub-vaults plus the fee and limit parameters changed only through governance.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// FeeDenominator is the scale of ManagementFee and PerformanceFee (1e9 = 100%).
const FeeDenominator uint64 = 1_000_000_000

type StrategyID string

// StrategyParams are the fee and limit options of a strategy's capital vault.
type StrategyParams struct {
	TokenLimit           sdkmath.Int    `json:"token_limit"`             // max aggregate capital, token-native units
	TokenLimitPerAddress sdkmath.Int    `json:"token_limit_per_address"` // MaxUint256 when unlimited
	ManagementFee        uint64         `json:"management_fee"`          // FeeDenominator scale
	PerformanceFee       uint64         `json:"performance_fee"`         // FeeDenominator scale
	Treasury             common.Address `json:"treasury"`                // receives fees
}

// StrategyInstance is created once and never changes its sub-vault set.
type StrategyInstance struct {
	ID         StrategyID     `json:"id"`
	Network    string         `json:"network"`
	ERC20Vault common.Address `json:"erc20_vault"`
	Token      Token          `json:"token"`
	SubVaults  []SubVault     `json:"sub_vaults"` // allocation order
	Params     StrategyParams `json:"params"`
	Admin      common.Address `json:"admin"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SubVaultIDs returns the IDs in instance order.
func (s *StrategyInstance) SubVaultIDs() []SubVaultID {
	ids := make([]SubVaultID, len(s.SubVaults))
	for i, sv := range s.SubVaults {
		ids[i] = sv.Config.ID
	}
	return ids
}

// Find returns the sub-vault with the given ID.
func (s *StrategyInstance) Find(id SubVaultID) (SubVault, bool) {
	for _, sv := range s.SubVaults {
		if sv.Config.ID == id {
			return sv, true
		}
	}
	return SubVault{}, false
}

// HasPositiveWeight reports whether at least one sub-vault takes part in allocation.
func (s *StrategyInstance) HasPositiveWeight() bool {
	for _, sv := range s.SubVaults {
		if sv.Weight.Weight > 0 {
			return true
		}
	}
	return false
}
