/*

This file contains the strategy builder: one parameterized function that turns a network's
registry table and a strategy definition into the sub-vault configs and the createStrategy
request of a StrategyInstance.

The vault cap is given in whole tokens per pool and padded with the token's decimals, so a
two pool USDC strategy with a cap of 250 gets a token limit of 500 * 10^6.

*/

package builder

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/strategy"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/validator"
)

// BuildRequest is a strategy definition plus the deployment context it is built in.
type BuildRequest struct {
	Setup           config.StrategySetup
	Admin           common.Address
	FirstSubVaultID types.SubVaultID // IDs are assigned sequentially from here, in pool order
}

// Blueprint is a validated strategy ready to be registered with a factory.
type Blueprint struct {
	Name      string
	SubVaults []types.SubVaultConfig
	Create    strategy.CreateRequest
}

// NextSubVaultID is the first ID not used by the blueprint.
func (b *Blueprint) NextSubVaultID() types.SubVaultID {
	if len(b.SubVaults) == 0 {
		return 0
	}
	return b.SubVaults[len(b.SubVaults)-1].ID + 1
}

// TokenLimit pads a whole-token cap per pool with the token decimals.
func TokenLimit(capPerPool decimal.Decimal, pools int, decimals int32) (sdkmath.Int, error) {
	if !capPerPool.IsPositive() || pools <= 0 {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidConfig, "vault cap %s over %d pools", capPerPool, pools)
	}
	limit := capPerPool.Mul(decimal.NewFromInt(int64(pools))).Shift(decimals)
	if !limit.IsInteger() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidConfig,
			"vault cap %s has more than %d decimals", capPerPool, decimals)
	}
	bi := limit.BigInt()
	if bi.BitLen() > 256 {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "token limit %s exceeds 256 bits", limit)
	}
	return sdkmath.NewIntFromBigInt(bi), nil
}

// Build resolves the pools of req on network, pads the cap and validates the result.
func Build(v *validator.Validator, network config.NetworkSetup, req BuildRequest) (*Blueprint, error) {
	s := req.Setup
	decimals, err := config.LookupDecimals(s.Token)
	if err != nil {
		return nil, err
	}
	tokenLimit, err := TokenLimit(s.VaultCapPerPool, len(s.Pools), decimals)
	if err != nil {
		return nil, errorsmod.Wrapf(err, "strategy %q", s.Name)
	}

	bp := &Blueprint{
		Name:      s.Name,
		SubVaults: make([]types.SubVaultConfig, 0, len(s.Pools)),
		Create: strategy.CreateRequest{
			Network:    network.Name,
			ERC20Vault: s.ERC20Vault,
			Token:      types.Token{Symbol: s.Token, Address: s.TokenAddress, Decimals: decimals},
			Params: types.StrategyParams{
				TokenLimit:           tokenLimit,
				TokenLimitPerAddress: s.TokenLimitPerAddress,
				ManagementFee:        s.ManagementFee,
				PerformanceFee:       s.PerformanceFee,
				Treasury:             s.Treasury,
			},
			Admin: req.Admin,
		},
	}

	inst := &types.StrategyInstance{
		Network:    network.Name,
		ERC20Vault: s.ERC20Vault,
		Token:      bp.Create.Token,
		Params:     bp.Create.Params,
		Admin:      req.Admin,
	}
	for i, name := range s.Pools {
		pool, err := network.Pool(name)
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "strategy %q: %v", s.Name, err)
		}
		cfg := types.SubVaultConfig{
			ID:                         req.FirstSubVaultID + types.SubVaultID(i),
			Pool:                       pool.Name,
			MarginEngine:               pool.MarginEngine,
			TickLower:                  pool.TickLower,
			TickUpper:                  pool.TickUpper,
			Leverage:                   pool.Leverage,
			MarginMultiplierPostUnwind: pool.MarginMultiplierPostUnwind,
			LookbackWindowSeconds:      pool.LookbackWindowSeconds,
		}
		bp.SubVaults = append(bp.SubVaults, cfg)
		bp.Create.SubVaultIDs = append(bp.Create.SubVaultIDs, cfg.ID)
		bp.Create.Weights = append(bp.Create.Weights, pool.Weight)
		inst.SubVaults = append(inst.SubVaults, types.SubVault{Config: cfg, Weight: pool.Weight})
	}

	if err := v.ValidateStrategy(inst); err != nil {
		return nil, fmt.Errorf("strategy %q: %w", s.Name, err)
	}
	return bp, nil
}

// Deploy registers the blueprint's sub-vaults and creates the strategy on f. A rejected
// blueprint leaves f unchanged.
func Deploy(f *strategy.Factory, bp *Blueprint) (*types.StrategyInstance, error) {
	return f.CreateStrategyWithSubVaults(bp.SubVaults, bp.Create)
}
