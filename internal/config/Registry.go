/*

This file contains the versioned configuration registry: the pool setups and strategy
definitions of every network, keyed by (network, pool identifier).

The registry is loaded once at startup, from REGISTRY_PATH or from the embedded default that
carries the deployed goerli and mainnet pool tables, and is immutable afterwards. The local
development networks resolve to mainnet.

*/

package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// RegistryVersion is the only registry schema version understood.
const RegistryVersion = 1

//go:embed registry.yaml
var defaultRegistry []byte

// networkAliases resolve local networks to the table they fork.
var networkAliases = map[string]string{
	"hardhat":   "mainnet",
	"localhost": "mainnet",
}

// PoolSetup is the static setup and the strategy weight config of one pool.
type PoolSetup struct {
	Name                       string
	MarginEngine               common.Address
	TickLower                  int32
	TickUpper                  int32
	Leverage                   sdkmath.Int
	MarginMultiplierPostUnwind sdkmath.Int
	LookbackWindowSeconds      int64
	Weight                     types.StrategyWeightConfig
}

// StrategySetup describes one strategy instance to build on a network.
type StrategySetup struct {
	Name                 string
	Token                string
	TokenAddress         common.Address
	ERC20Vault           common.Address
	Pools                []string
	VaultCapPerPool      decimal.Decimal // whole tokens
	TokenLimitPerAddress sdkmath.Int     // token-native units
	ManagementFee        uint64
	PerformanceFee       uint64
	Treasury             common.Address
}

// NetworkSetup is the registry table of one network.
type NetworkSetup struct {
	Name       string
	pools      map[string]PoolSetup
	strategies []StrategySetup
}

// Pool returns the setup of a pool.
func (n NetworkSetup) Pool(name string) (PoolSetup, error) {
	p, ok := n.pools[name]
	if !ok {
		return PoolSetup{}, errorsmod.Wrapf(types.ErrNotFound, "pool %q on %s", name, n.Name)
	}
	return p, nil
}

// Pools returns the pool identifiers in lexical order.
func (n NetworkSetup) Pools() []string {
	out := make([]string, 0, len(n.pools))
	for name := range n.pools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Strategies returns the strategy definitions in file order.
func (n NetworkSetup) Strategies() []StrategySetup {
	return append([]StrategySetup(nil), n.strategies...)
}

// Registry is the immutable set of network tables.
type Registry struct {
	version  int
	networks map[string]NetworkSetup
}

// Version returns the schema version the registry was loaded with.
func (r *Registry) Version() int { return r.version }

// Network returns the table of a network, following the local network aliases.
func (r *Registry) Network(name string) (NetworkSetup, error) {
	key := strings.ToLower(name)
	if alias, ok := networkAliases[key]; ok {
		key = alias
	}
	n, ok := r.networks[key]
	if !ok {
		return NetworkSetup{}, errorsmod.Wrapf(types.ErrNotFound, "network %q is not in the registry", name)
	}
	return n, nil
}

// Networks returns the network names in lexical order.
func (r *Registry) Networks() []string {
	out := make([]string, 0, len(r.networks))
	for name := range r.networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadRegistry reads the registry at path, or the embedded default when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return ParseRegistry(defaultRegistry)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}
	return ParseRegistry(raw)
}

type registryFile struct {
	Version  int                    `yaml:"version"`
	Networks map[string]networkFile `yaml:"networks"`
}

type networkFile struct {
	Pools      map[string]poolFile `yaml:"pools"`
	Strategies []strategyFile      `yaml:"strategies"`
}

type poolFile struct {
	MarginEngine                  string `yaml:"marginEngine"`
	TickLower                     int32  `yaml:"tickLower"`
	TickUpper                     int32  `yaml:"tickUpper"`
	LeverageWad                   string `yaml:"leverageWad"`
	MarginMultiplierPostUnwindWad string `yaml:"marginMultiplierPostUnwindWad"`
	LookbackWindowSeconds         *int64 `yaml:"lookbackWindowSeconds"`
	SigmaWad                      string `yaml:"sigmaWad"`
	MaxPossibleLowerBoundWad      string `yaml:"maxPossibleLowerBoundWad"`
	ProximityWad                  string `yaml:"proximityWad"`
	Weight                        uint64 `yaml:"weight"`
}

type strategyFile struct {
	Name                 string   `yaml:"name"`
	Token                string   `yaml:"token"`
	TokenAddress         string   `yaml:"tokenAddress"`
	ERC20Vault           string   `yaml:"erc20Vault"`
	Pools                []string `yaml:"pools"`
	VaultCapPerPool      string   `yaml:"vaultCapPerPool"`
	TokenLimitPerAddress string   `yaml:"tokenLimitPerAddress"`
	ManagementFee        uint64   `yaml:"managementFee"`
	PerformanceFee       uint64   `yaml:"performanceFee"`
	Treasury             string   `yaml:"treasury"`
}

// ParseRegistry decodes and checks a registry document. Unknown fields are rejected.
func ParseRegistry(raw []byte) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "decode registry: %v", err)
	}
	if file.Version != RegistryVersion {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "registry version %d, want %d", file.Version, RegistryVersion)
	}

	reg := &Registry{version: file.Version, networks: make(map[string]NetworkSetup, len(file.Networks))}
	for name, nf := range file.Networks {
		n, err := parseNetwork(strings.ToLower(name), nf)
		if err != nil {
			return nil, err
		}
		reg.networks[n.Name] = n
	}
	return reg, nil
}

func parseNetwork(name string, nf networkFile) (NetworkSetup, error) {
	n := NetworkSetup{Name: name, pools: make(map[string]PoolSetup, len(nf.Pools))}
	for poolName, pf := range nf.Pools {
		p, err := parsePool(poolName, pf)
		if err != nil {
			return NetworkSetup{}, errorsmod.Wrapf(err, "network %s", name)
		}
		n.pools[poolName] = p
	}
	seen := make(map[string]bool, len(nf.Strategies))
	for i, sf := range nf.Strategies {
		s, err := parseStrategy(sf)
		if err != nil {
			return NetworkSetup{}, errorsmod.Wrapf(err, "network %s: strategies[%d]", name, i)
		}
		if seen[s.Name] {
			return NetworkSetup{}, errorsmod.Wrapf(types.ErrInvalidConfig, "network %s: duplicate strategy %q", name, s.Name)
		}
		seen[s.Name] = true
		for _, pool := range s.Pools {
			if _, ok := n.pools[pool]; !ok {
				return NetworkSetup{}, errorsmod.Wrapf(types.ErrInvalidConfig,
					"network %s: strategy %q uses unknown pool %q", name, s.Name, pool)
			}
		}
		n.strategies = append(n.strategies, s)
	}
	return n, nil
}

func parsePool(name string, pf poolFile) (PoolSetup, error) {
	if !common.IsHexAddress(pf.MarginEngine) {
		return PoolSetup{}, errorsmod.Wrapf(types.ErrInvalidConfig, "pool %s: marginEngine %q is not an address", name, pf.MarginEngine)
	}
	p := PoolSetup{
		Name:                  name,
		MarginEngine:          common.HexToAddress(pf.MarginEngine),
		TickLower:             pf.TickLower,
		TickUpper:             pf.TickUpper,
		LookbackWindowSeconds: DefaultLookbackWindowSeconds,
		Weight:                types.StrategyWeightConfig{Weight: pf.Weight},
	}
	if pf.LookbackWindowSeconds != nil {
		p.LookbackWindowSeconds = *pf.LookbackWindowSeconds
	}

	fields := []struct {
		name     string
		raw      string
		fallback sdkmath.Int
		dst      *sdkmath.Int
	}{
		{"leverageWad", pf.LeverageWad, DefaultLeverage, &p.Leverage},
		{"marginMultiplierPostUnwindWad", pf.MarginMultiplierPostUnwindWad, DefaultMarginMultiplierPostUnwind, &p.MarginMultiplierPostUnwind},
		{"sigmaWad", pf.SigmaWad, sdkmath.Int{}, &p.Weight.Sigma},
		{"maxPossibleLowerBoundWad", pf.MaxPossibleLowerBoundWad, DefaultMaxPossibleLowerBound, &p.Weight.MaxPossibleLowerBound},
		{"proximityWad", pf.ProximityWad, sdkmath.Int{}, &p.Weight.Proximity},
	}
	for _, f := range fields {
		if f.raw == "" {
			if f.fallback.IsNil() {
				return PoolSetup{}, errorsmod.Wrapf(types.ErrInvalidConfig, "pool %s: %s is required", name, f.name)
			}
			*f.dst = f.fallback
			continue
		}
		v, err := fixedpoint.ParseRaw(f.raw)
		if err != nil {
			return PoolSetup{}, errorsmod.Wrapf(err, "pool %s: %s", name, f.name)
		}
		*f.dst = v
	}
	return p, nil
}

func parseStrategy(sf strategyFile) (StrategySetup, error) {
	if sf.Name == "" {
		return StrategySetup{}, errorsmod.Wrap(types.ErrInvalidConfig, "name is required")
	}
	if len(sf.Pools) == 0 {
		return StrategySetup{}, errorsmod.Wrapf(types.ErrInvalidConfig, "strategy %q has no pools", sf.Name)
	}
	s := StrategySetup{
		Name:                 sf.Name,
		Token:                strings.ToUpper(sf.Token),
		Pools:                append([]string(nil), sf.Pools...),
		TokenLimitPerAddress: DefaultTokenLimitPerAddress,
		ManagementFee:        sf.ManagementFee,
		PerformanceFee:       sf.PerformanceFee,
	}
	if _, err := LookupDecimals(s.Token); err != nil {
		return StrategySetup{}, errorsmod.Wrapf(err, "strategy %q", sf.Name)
	}

	addrs := []struct {
		name     string
		raw      string
		required bool
		dst      *common.Address
	}{
		{"tokenAddress", sf.TokenAddress, false, &s.TokenAddress},
		{"erc20Vault", sf.ERC20Vault, true, &s.ERC20Vault},
		{"treasury", sf.Treasury, true, &s.Treasury},
	}
	for _, a := range addrs {
		if a.raw == "" && !a.required {
			continue
		}
		if !common.IsHexAddress(a.raw) {
			return StrategySetup{}, errorsmod.Wrapf(types.ErrInvalidConfig, "strategy %q: %s %q is not an address", sf.Name, a.name, a.raw)
		}
		*a.dst = common.HexToAddress(a.raw)
	}

	capPerPool, err := decimal.NewFromString(sf.VaultCapPerPool)
	if err != nil || !capPerPool.IsPositive() {
		return StrategySetup{}, errorsmod.Wrapf(types.ErrInvalidConfig,
			"strategy %q: vaultCapPerPool %q must be a positive number of tokens", sf.Name, sf.VaultCapPerPool)
	}
	s.VaultCapPerPool = capPerPool

	if sf.TokenLimitPerAddress != "" {
		if s.TokenLimitPerAddress, err = fixedpoint.ParseRaw(sf.TokenLimitPerAddress); err != nil {
			return StrategySetup{}, errorsmod.Wrapf(err, "strategy %q: tokenLimitPerAddress", sf.Name)
		}
	}
	return s, nil
}
