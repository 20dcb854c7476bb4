package strategy

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/roles"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/validator"
)

var (
	admin    = common.HexToAddress("0xb527e950fc7c4f581160768f48b3bfa66a7de1f0")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	vaultA   = common.HexToAddress("0x000000000000000000000000000000000000a11a")
	t0       = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	factory *Factory
	gov     *DelayedGovernance
	now     *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	now := t0
	clock := func() time.Time { return now }
	gov := NewDelayedGovernance(0, clock)
	f, err := NewFactory(Config{
		Validator:  validator.New(60),
		Gate:       roles.NewRegistry(roles.FullGrant(admin)...),
		Governance: gov,
		Clock:      clock,
	})
	require.NoError(t, err)
	return fixture{factory: f, gov: gov, now: &now}
}

func subVaultConfig(id types.SubVaultID) types.SubVaultConfig {
	return types.SubVaultConfig{
		ID:                         id,
		Pool:                       "aUSDC_v4",
		MarginEngine:               common.BigToAddress(sdkmath.NewInt(int64(id) + 1000).BigInt()),
		TickLower:                  -2640,
		TickUpper:                  3540,
		Leverage:                   fixedpoint.WAD.MulRaw(10),
		MarginMultiplierPostUnwind: fixedpoint.WAD.MulRaw(2),
		LookbackWindowSeconds:      1209600,
	}
}

func weight(w uint64) types.StrategyWeightConfig {
	return types.StrategyWeightConfig{
		Sigma:                 fixedpoint.WAD.QuoRaw(10),
		MaxPossibleLowerBound: fixedpoint.WAD.MulRaw(3).QuoRaw(2),
		Proximity:             fixedpoint.WAD.QuoRaw(10),
		Weight:                w,
	}
}

func params() types.StrategyParams {
	return types.StrategyParams{
		TokenLimit:           sdkmath.NewInt(1_000_000_000_000),
		TokenLimitPerAddress: fixedpoint.MaxUint256,
		Treasury:             admin,
	}
}

func createRequest(ids []types.SubVaultID, weights ...uint64) CreateRequest {
	req := CreateRequest{
		Network:     "mainnet",
		ERC20Vault:  vaultA,
		Token:       types.Token{Symbol: "USDC", Decimals: 6},
		SubVaultIDs: ids,
		Params:      params(),
		Admin:       admin,
	}
	for _, w := range weights {
		req.Weights = append(req.Weights, weight(w))
	}
	return req
}

func TestRegisterSubVaultIsAtomic(t *testing.T) {
	fx := newFixture(t)

	bad := subVaultConfig(1)
	bad.TickLower, bad.TickUpper = 100, 60
	require.ErrorIs(t, fx.factory.RegisterSubVault(bad), types.ErrInvalidConfig)
	_, err := fx.factory.SubVault(1)
	require.ErrorIs(t, err, types.ErrUnknownSubVault, "rejected sub-vault leaves no trace")

	require.NoError(t, fx.factory.RegisterSubVault(subVaultConfig(1)))
	require.ErrorIs(t, fx.factory.RegisterSubVault(subVaultConfig(1)), types.ErrInvalidConfig)
}

func TestCreateStrategy(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.factory.RegisterSubVault(subVaultConfig(1)))
	require.NoError(t, fx.factory.RegisterSubVault(subVaultConfig(2)))

	inst, err := fx.factory.CreateStrategy(createRequest([]types.SubVaultID{1, 2}, 85, 15))
	require.NoError(t, err)
	assert.Equal(t, StrategyIDFor("mainnet", vaultA, []types.SubVaultID{1, 2}), inst.ID)
	assert.Equal(t, []types.SubVaultID{1, 2}, inst.SubVaultIDs())
	assert.Equal(t, t0, inst.CreatedAt)

	_, err = fx.factory.CreateStrategy(createRequest([]types.SubVaultID{1, 2}, 85, 15))
	require.ErrorIs(t, err, types.ErrInvalidConfig, "same vault and sub-vaults give the same ID")

	_, err = fx.factory.CreateStrategy(createRequest([]types.SubVaultID{2, 1}, 0, 0))
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = fx.factory.CreateStrategy(createRequest([]types.SubVaultID{1, 3}, 1, 1))
	require.ErrorIs(t, err, types.ErrUnknownSubVault)

	_, err = fx.factory.CreateStrategy(createRequest([]types.SubVaultID{1}, 1, 1))
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	assert.Len(t, fx.factory.List(), 1)
}

func TestCreateStrategyWithSubVaultsIsAtomic(t *testing.T) {
	fx := newFixture(t)
	subVaults := []types.SubVaultConfig{subVaultConfig(1), subVaultConfig(2)}

	// zero total weight is rejected after every sub-vault validated
	_, err := fx.factory.CreateStrategyWithSubVaults(subVaults, createRequest([]types.SubVaultID{1, 2}, 0, 0))
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	for _, id := range []types.SubVaultID{1, 2} {
		_, err := fx.factory.SubVault(id)
		assert.ErrorIs(t, err, types.ErrUnknownSubVault, "sub-vault %d left behind", id)
	}
	assert.Empty(t, fx.factory.List())

	inst, err := fx.factory.CreateStrategyWithSubVaults(subVaults, createRequest([]types.SubVaultID{1, 2}, 85, 15))
	require.NoError(t, err)
	assert.Equal(t, []types.SubVaultID{1, 2}, inst.SubVaultIDs())

	_, err = fx.factory.CreateStrategyWithSubVaults(
		[]types.SubVaultConfig{subVaultConfig(3), subVaultConfig(3)},
		createRequest([]types.SubVaultID{3}, 1))
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	_, err = fx.factory.SubVault(3)
	assert.ErrorIs(t, err, types.ErrUnknownSubVault)
}

func TestAdminGatedMutations(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.factory.RegisterSubVault(subVaultConfig(1)))
	require.NoError(t, fx.factory.RegisterSubVault(subVaultConfig(2)))
	inst, err := fx.factory.CreateStrategy(createRequest([]types.SubVaultID{1, 2}, 85, 15))
	require.NoError(t, err)

	cfg := subVaultConfig(2)
	cfg.TickLower = -4080
	require.ErrorIs(t, fx.factory.Reconfigure(stranger, cfg), types.ErrUnauthorized)
	require.NoError(t, fx.factory.Reconfigure(admin, cfg))
	got, err := fx.factory.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(-4080), got.SubVaults[1].Config.TickLower)
	assert.Equal(t, int32(-2640), inst.SubVaults[1].Config.TickLower, "returned instances are copies")

	cfg.TickUpper = cfg.TickLower
	require.ErrorIs(t, fx.factory.Reconfigure(admin, cfg), types.ErrInvalidConfig)

	weights := []types.StrategyWeightConfig{weight(50), weight(50)}
	require.ErrorIs(t, fx.factory.UpdateWeights(stranger, inst.ID, weights), types.ErrUnauthorized)
	require.NoError(t, fx.factory.UpdateWeights(admin, inst.ID, weights))
	require.ErrorIs(t,
		fx.factory.UpdateWeights(admin, inst.ID, []types.StrategyWeightConfig{weight(0), weight(0)}),
		types.ErrInvalidConfig)
	got, _ = fx.factory.Get(inst.ID)
	assert.Equal(t, uint64(50), got.SubVaults[0].Weight.Weight)
}

func TestParamsGoThroughGovernanceDelay(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.factory.RegisterSubVault(subVaultConfig(1)))
	inst, err := fx.factory.CreateStrategy(createRequest([]types.SubVaultID{1}, 100))
	require.NoError(t, err)

	next := params()
	next.ManagementFee = 2 * 10_000_000
	next.PerformanceFee = 20 * 10_000_000

	require.ErrorIs(t, fx.factory.StageParams(stranger, inst.ID, next), types.ErrUnauthorized)
	require.ErrorIs(t, fx.factory.CommitParams(admin, inst.ID), types.ErrNotFound)

	require.NoError(t, fx.factory.StageParams(admin, inst.ID, next))
	_, readyAt, ok := fx.gov.Pending(inst.ID)
	require.True(t, ok)
	assert.Equal(t, t0.Add(24*time.Hour), readyAt)

	*fx.now = t0.Add(23 * time.Hour)
	require.ErrorIs(t, fx.factory.CommitParams(admin, inst.ID), types.ErrGovernanceDelay)
	got, _ := fx.factory.Get(inst.ID)
	assert.Zero(t, got.Params.ManagementFee)

	*fx.now = t0.Add(24 * time.Hour)
	require.NoError(t, fx.factory.CommitParams(admin, inst.ID))
	got, _ = fx.factory.Get(inst.ID)
	assert.Equal(t, uint64(20_000_000), got.Params.ManagementFee)

	bad := params()
	bad.PerformanceFee = types.FeeDenominator + 1
	require.ErrorIs(t, fx.factory.StageParams(admin, inst.ID, bad), types.ErrInvalidConfig)
}
