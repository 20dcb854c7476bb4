/*

This file contains the strategy factory: sub-vault registration, strategy creation and the
admin-gated mutations of a strategy's configuration.

Every mutation validates first and writes second, so a rejected call leaves no partial state.

*/

package strategy

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/validator"
)

// AdminGate is the administrative capability check.
type AdminGate interface {
	IsAdmin(caller common.Address) bool
}

// CreateRequest carries the arguments of createStrategy.
type CreateRequest struct {
	Network     string
	ERC20Vault  common.Address
	Token       types.Token
	SubVaultIDs []types.SubVaultID           // registered sub-vaults, in allocation order
	Weights     []types.StrategyWeightConfig // aligned with SubVaultIDs
	Params      types.StrategyParams
	Admin       common.Address
}

// Config holds the configuration for creating a new Factory
type Config struct {
	Validator  *validator.Validator
	Gate       AdminGate
	Governance Governance
	Clock      func() time.Time
}

// Factory owns every registered sub-vault and strategy instance.
type Factory struct {
	validator  *validator.Validator
	gate       AdminGate
	governance Governance
	clock      func() time.Time
	logger     zerolog.Logger

	mu        sync.RWMutex
	subVaults map[types.SubVaultID]types.SubVaultConfig
	instances map[types.StrategyID]*types.StrategyInstance
}

// NewFactory creates a factory with dependency injection
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator cannot be nil")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("admin gate cannot be nil")
	}
	if cfg.Governance == nil {
		return nil, fmt.Errorf("governance cannot be nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Factory{
		validator:  cfg.Validator,
		gate:       cfg.Gate,
		governance: cfg.Governance,
		clock:      cfg.Clock,
		logger:     logger.GetForComponent("strategy_factory"),
		subVaults:  make(map[types.SubVaultID]types.SubVaultConfig),
		instances:  make(map[types.StrategyID]*types.StrategyInstance),
	}, nil
}

// RegisterSubVault validates and records a sub-vault. IDs are never reused.
func (f *Factory) RegisterSubVault(cfg types.SubVaultConfig) error {
	if err := f.validator.ValidateSubVault(cfg); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.subVaults[cfg.ID]; exists {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "sub-vault %d already registered", cfg.ID)
	}
	f.subVaults[cfg.ID] = cfg
	f.logRegistered(cfg)
	return nil
}

func (f *Factory) logRegistered(cfg types.SubVaultConfig) {
	f.logger.Info().
		Uint64("subVaultID", uint64(cfg.ID)).
		Str("pool", cfg.Pool).
		Str("marginEngine", cfg.MarginEngine.Hex()).
		Int32("tickLower", cfg.TickLower).
		Int32("tickUpper", cfg.TickUpper).
		Msg("Sub-vault registered")
}

// SubVault returns a registered sub-vault config.
func (f *Factory) SubVault(id types.SubVaultID) (types.SubVaultConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg, ok := f.subVaults[id]
	if !ok {
		return types.SubVaultConfig{}, errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d", id)
	}
	return cfg, nil
}

// StrategyIDFor derives the deterministic instance ID of a capital vault and sub-vault set.
func StrategyIDFor(network string, erc20Vault common.Address, subVaultIDs []types.SubVaultID) types.StrategyID {
	buf := make([]byte, 0, common.AddressLength+8*len(subVaultIDs))
	buf = append(buf, erc20Vault.Bytes()...)
	for _, id := range subVaultIDs {
		buf = binary.BigEndian.AppendUint64(buf, uint64(id))
	}
	hash := crypto.Keccak256(buf)
	return types.StrategyID(fmt.Sprintf("%s-%x", network, hash[:6]))
}

// CreateStrategy validates and creates a strategy instance. Its sub-vault set never changes.
func (f *Factory) CreateStrategy(req CreateRequest) (*types.StrategyInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, err := f.newInstanceLocked(req, nil)
	if err != nil {
		return nil, err
	}
	f.instances[inst.ID] = inst
	f.logCreated(inst)
	return cloneInstance(inst), nil
}

// CreateStrategyWithSubVaults registers subVaults and creates the strategy using them in one
// step. Nothing is recorded unless both succeed.
func (f *Factory) CreateStrategyWithSubVaults(subVaults []types.SubVaultConfig, req CreateRequest) (*types.StrategyInstance, error) {
	for _, cfg := range subVaults {
		if err := f.validator.ValidateSubVault(cfg); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pending := make(map[types.SubVaultID]types.SubVaultConfig, len(subVaults))
	for _, cfg := range subVaults {
		_, registered := f.subVaults[cfg.ID]
		_, duplicate := pending[cfg.ID]
		if registered || duplicate {
			return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "sub-vault %d already registered", cfg.ID)
		}
		pending[cfg.ID] = cfg
	}
	inst, err := f.newInstanceLocked(req, pending)
	if err != nil {
		return nil, err
	}

	for _, cfg := range subVaults {
		f.subVaults[cfg.ID] = cfg
		f.logRegistered(cfg)
	}
	f.instances[inst.ID] = inst
	f.logCreated(inst)
	return cloneInstance(inst), nil
}

// newInstanceLocked builds and validates an instance without recording it. Sub-vaults are
// looked up in pending first, then in the registered set.
func (f *Factory) newInstanceLocked(req CreateRequest, pending map[types.SubVaultID]types.SubVaultConfig) (*types.StrategyInstance, error) {
	if len(req.SubVaultIDs) != len(req.Weights) {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig,
			"%d sub-vaults but %d weight configs", len(req.SubVaultIDs), len(req.Weights))
	}

	inst := &types.StrategyInstance{
		ID:         StrategyIDFor(req.Network, req.ERC20Vault, req.SubVaultIDs),
		Network:    req.Network,
		ERC20Vault: req.ERC20Vault,
		Token:      req.Token,
		SubVaults:  make([]types.SubVault, len(req.SubVaultIDs)),
		Params:     req.Params,
		Admin:      req.Admin,
		CreatedAt:  f.clock(),
	}
	for i, id := range req.SubVaultIDs {
		cfg, ok := pending[id]
		if !ok {
			cfg, ok = f.subVaults[id]
		}
		if !ok {
			return nil, errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d is not registered", id)
		}
		inst.SubVaults[i] = types.SubVault{Config: cfg, Weight: req.Weights[i]}
	}
	if err := f.validator.ValidateStrategy(inst); err != nil {
		return nil, err
	}
	if _, exists := f.instances[inst.ID]; exists {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "strategy %s already exists", inst.ID)
	}
	return inst, nil
}

func (f *Factory) logCreated(inst *types.StrategyInstance) {
	f.logger.Info().
		Str("instance", string(inst.ID)).
		Str("erc20Vault", inst.ERC20Vault.Hex()).
		Str("token", inst.Token.Symbol).
		Int("subVaults", len(inst.SubVaults)).
		Msg("Strategy created")
}

// Get returns a copy of a strategy instance.
func (f *Factory) Get(id types.StrategyID) (*types.StrategyInstance, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrNotFound, "strategy %s", id)
	}
	return cloneInstance(inst), nil
}

// List returns copies of every instance ordered by ID.
func (f *Factory) List() []*types.StrategyInstance {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*types.StrategyInstance, 0, len(f.instances))
	for _, inst := range f.instances {
		out = append(out, cloneInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reconfigure replaces the static setup of a registered sub-vault, everywhere it is used.
func (f *Factory) Reconfigure(caller common.Address, cfg types.SubVaultConfig) error {
	if !f.gate.IsAdmin(caller) {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s cannot reconfigure sub-vaults", caller.Hex())
	}
	if err := f.validator.ValidateSubVault(cfg); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subVaults[cfg.ID]; !ok {
		return errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d", cfg.ID)
	}
	f.subVaults[cfg.ID] = cfg
	for _, inst := range f.instances {
		for i := range inst.SubVaults {
			if inst.SubVaults[i].Config.ID == cfg.ID {
				inst.SubVaults[i].Config = cfg
			}
		}
	}

	f.logger.Info().Uint64("subVaultID", uint64(cfg.ID)).Str("caller", caller.Hex()).Msg("Sub-vault reconfigured")
	return nil
}

// UpdateWeights replaces every weight config of an instance, in sub-vault order.
func (f *Factory) UpdateWeights(caller common.Address, id types.StrategyID, weights []types.StrategyWeightConfig) error {
	if !f.gate.IsAdmin(caller) {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s cannot update weights", caller.Hex())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return errorsmod.Wrapf(types.ErrNotFound, "strategy %s", id)
	}
	if len(weights) != len(inst.SubVaults) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "%d weight configs for %d sub-vaults", len(weights), len(inst.SubVaults))
	}

	next := cloneInstance(inst)
	for i := range next.SubVaults {
		next.SubVaults[i].Weight = weights[i]
	}
	if err := f.validator.ValidateStrategy(next); err != nil {
		return err
	}
	f.instances[id] = next

	f.logger.Info().Str("instance", string(id)).Str("caller", caller.Hex()).Msg("Strategy weights updated")
	return nil
}

// StageParams hands new fee and limit parameters to governance.
func (f *Factory) StageParams(caller common.Address, id types.StrategyID, params types.StrategyParams) error {
	if !f.gate.IsAdmin(caller) {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s cannot stage params", caller.Hex())
	}
	if err := f.validator.ValidateParams(params); err != nil {
		return err
	}
	if _, err := f.Get(id); err != nil {
		return err
	}
	if err := f.governance.Stage(id, params); err != nil {
		return err
	}
	f.logger.Info().Str("instance", string(id)).Str("caller", caller.Hex()).Msg("Strategy params staged")
	return nil
}

// CommitParams applies the staged parameters once governance releases them.
func (f *Factory) CommitParams(caller common.Address, id types.StrategyID) error {
	if !f.gate.IsAdmin(caller) {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s cannot commit params", caller.Hex())
	}
	if _, err := f.Get(id); err != nil {
		return err
	}
	params, err := f.governance.Commit(id)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return errorsmod.Wrapf(types.ErrNotFound, "strategy %s", id)
	}
	next := cloneInstance(inst)
	next.Params = params
	f.instances[id] = next

	f.logger.Info().Str("instance", string(id)).Str("caller", caller.Hex()).Msg("Strategy params committed")
	return nil
}

func cloneInstance(inst *types.StrategyInstance) *types.StrategyInstance {
	out := *inst
	out.SubVaults = append([]types.SubVault(nil), inst.SubVaults...)
	return &out
}
