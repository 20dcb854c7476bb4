package config

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NETWORK", "Mainnet")
	t.Setenv("REBALANCE_DRIFT_WAD", "50000000000000000")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("LOG_FILE", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	require.NoError(t, LoadConfig())
	assert.Equal(t, "mainnet", Network)
	assert.True(t, DriftThreshold.Equal(sdkmath.NewInt(50000000000000000)))
	assert.Equal(t, ModePlan, Mode)
	assert.Equal(t, DefaultTickSpacing, TickSpacing)
	assert.True(t, MinInstructionAmount.IsZero())
	assert.Equal(t, common.Address{}, AdminAddress)
	assert.Equal(t, "8080", WebPort)
	assert.Equal(t, "lpo.db", SQLitePath)
	assert.Equal(t, DefaultCycleCron, CycleCron)
	assert.Empty(t, LogFile)
}

func TestLoadConfigRequiresDriftThreshold(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REBALANCE_DRIFT_WAD", "")
	assert.ErrorContains(t, LoadConfig(), "REBALANCE_DRIFT_WAD is required")

	t.Setenv("REBALANCE_DRIFT_WAD", "0.05")
	assert.ErrorContains(t, LoadConfig(), "non-negative integer")

	t.Setenv("REBALANCE_DRIFT_WAD", "1000000000000000001")
	assert.ErrorContains(t, LoadConfig(), "at most 1e18")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"mode":    {"LPO_MODE", "live"},
		"spacing": {"TICK_SPACING", "0"},
		"admin":   {"ADMIN_ADDRESS", "multisig"},
		"driver":  {"DB_DRIVER", "mysql"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(kv[0], kv[1])
			assert.Error(t, LoadConfig())
		})
	}
}

func TestLoadConfigPostgresNeedsHost(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "")
	assert.ErrorContains(t, LoadConfig(), "DB_HOST")

	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "lpo")
	t.Setenv("DB_NAME", "lpo")
	require.NoError(t, LoadConfig())
	assert.Equal(t, 5432, DBPort)
	assert.Equal(t, "disable", DBSSLMode)
}

func TestEmbeddedRegistry(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Equal(t, []string{"goerli", "mainnet"}, reg.Networks())

	mainnet, err := reg.Network("mainnet")
	require.NoError(t, err)
	assert.Len(t, mainnet.Pools(), 7)
	assert.Empty(t, mainnet.Strategies())

	cdai, err := mainnet.Pool("cDAI_v4")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x720BE99ee947292Be5d0e8Ef8D8687a7bC542f73"), cdai.MarginEngine)
	assert.Equal(t, int32(-4080), cdai.TickLower)
	assert.Equal(t, int32(6900), cdai.TickUpper)
	assert.Equal(t, "499999762330392000", cdai.Weight.Sigma.String())
	assert.Equal(t, uint64(85), cdai.Weight.Weight)
	assert.Equal(t, DefaultLookbackWindowSeconds, cdai.LookbackWindowSeconds)

	local, err := reg.Network("hardhat")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", local.Name)

	_, err = reg.Network("sepolia")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = mainnet.Pool("cETH")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

const strategyRegistry = `
version: 1
networks:
  goerli:
    pools:
      cETH:
        marginEngine: "0x2A40fBF82B7F42fBa7FA5Aa1fa90fCdDB9175dB1"
        tickLower: -7620
        tickUpper: 38820
        sigmaWad: "1059469974466510000"
        proximityWad: "14024637172194800"
        lookbackWindowSeconds: 86400
        weight: 100
    strategies:
      - name: weth
        token: weth
        erc20Vault: "0x000000000000000000000000000000000000a11a"
        treasury: "0x000000000000000000000000000000000000beef"
        pools: [cETH]
        vaultCapPerPool: "250"
`

func TestParseRegistryWithStrategies(t *testing.T) {
	reg, err := ParseRegistry([]byte(strategyRegistry))
	require.NoError(t, err)

	goerli, err := reg.Network("goerli")
	require.NoError(t, err)
	pool, err := goerli.Pool("cETH")
	require.NoError(t, err)
	assert.Equal(t, int64(86400), pool.LookbackWindowSeconds)
	assert.Equal(t, DefaultLeverage, pool.Leverage)
	assert.Equal(t, DefaultMaxPossibleLowerBound, pool.Weight.MaxPossibleLowerBound)

	strategies := goerli.Strategies()
	require.Len(t, strategies, 1)
	s := strategies[0]
	assert.Equal(t, "WETH", s.Token)
	assert.Equal(t, "250", s.VaultCapPerPool.String())
	assert.Equal(t, DefaultTokenLimitPerAddress, s.TokenLimitPerAddress)
	assert.Equal(t, common.Address{}, s.TokenAddress)
}

func TestParseRegistryRejects(t *testing.T) {
	cases := map[string]string{
		"version":       "version: 2\nnetworks: {}\n",
		"unknown field": "version: 1\nnetworks:\n  goerli:\n    pool: {}\n",
		"missing sigma": `
version: 1
networks:
  goerli:
    pools:
      cETH: {marginEngine: "0x2A40fBF82B7F42fBa7FA5Aa1fa90fCdDB9175dB1", tickLower: 0, tickUpper: 60, proximityWad: "1"}
`,
		"bad engine": `
version: 1
networks:
  goerli:
    pools:
      cETH: {marginEngine: "engine", sigmaWad: "1", proximityWad: "1"}
`,
		"unknown pool": `
version: 1
networks:
  goerli:
    strategies:
      - {name: a, token: USDC, erc20Vault: "0x000000000000000000000000000000000000a11a", treasury: "0x000000000000000000000000000000000000beef", pools: [cUSDC], vaultCapPerPool: "1"}
`,
		"unknown token": `
version: 1
networks:
  goerli:
    strategies:
      - {name: a, token: FRAX, erc20Vault: "0x000000000000000000000000000000000000a11a", treasury: "0x000000000000000000000000000000000000beef", pools: [x], vaultCapPerPool: "1"}
`,
		"zero cap": `
version: 1
networks:
  goerli:
    strategies:
      - {name: a, token: USDC, erc20Vault: "0x000000000000000000000000000000000000a11a", treasury: "0x000000000000000000000000000000000000beef", pools: [x], vaultCapPerPool: "0"}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			assert.ErrorIs(t, err, types.ErrInvalidConfig)
		})
	}
}

func TestLookupDecimals(t *testing.T) {
	d, err := LookupDecimals("usdc")
	require.NoError(t, err)
	assert.Equal(t, int32(6), d)
	d, err = LookupDecimals("DAI")
	require.NoError(t, err)
	assert.Equal(t, int32(18), d)
	_, err = LookupDecimals("ELYS")
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}
