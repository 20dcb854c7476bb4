package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/voltz-protocol/lp-optimiser/internal/builder"
	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/executor"
	"github.com/voltz-protocol/lp-optimiser/internal/marginengine"
	"github.com/voltz-protocol/lp-optimiser/internal/metrics"
	"github.com/voltz-protocol/lp-optimiser/internal/optimiser"
	"github.com/voltz-protocol/lp-optimiser/internal/policy"
	"github.com/voltz-protocol/lp-optimiser/internal/roles"
	"github.com/voltz-protocol/lp-optimiser/internal/state"
	"github.com/voltz-protocol/lp-optimiser/internal/strategy"
	"github.com/voltz-protocol/lp-optimiser/internal/tracker"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/validator"
	"github.com/voltz-protocol/lp-optimiser/internal/vault"
)

// app is the fully wired optimiser shared by the run and plan commands.
type app struct {
	store     *state.Store
	factory   *strategy.Factory
	tracker   *tracker.Tracker
	engine    *policy.Engine
	metrics   *metrics.Metrics
	optimiser *optimiser.Optimiser
	client    *ethclient.Client
}

func (a *app) Close() {
	if err := a.optimiser.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close holding vaults")
	}
	if a.client != nil {
		a.client.Close()
	}
	a.store.Close()
}

func openStore() (*state.Store, error) {
	store, err := state.Open(state.DBConfig{
		Driver:     config.DBDriver,
		SQLitePath: config.SQLitePath,
		Host:       config.DBHost,
		Port:       config.DBPort,
		User:       config.DBUser,
		Password:   config.DBPassword,
		DBName:     config.DBName,
		SSLMode:    config.DBSSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.EnsureSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}
	return store, nil
}

// deployStrategies builds every strategy of the configured network and creates it on f.
func deployStrategies(v *validator.Validator, f *strategy.Factory) ([]*builder.Blueprint, error) {
	registry, err := config.LoadRegistry(config.RegistryPath)
	if err != nil {
		return nil, err
	}
	network, err := registry.Network(config.Network)
	if err != nil {
		return nil, err
	}

	var (
		blueprints []*builder.Blueprint
		next       = types.SubVaultID(1)
	)
	for _, setup := range network.Strategies() {
		bp, err := builder.Build(v, network, builder.BuildRequest{
			Setup:           setup,
			Admin:           config.AdminAddress,
			FirstSubVaultID: next,
		})
		if err != nil {
			return nil, err
		}
		if f != nil {
			if _, err := builder.Deploy(f, bp); err != nil {
				return nil, fmt.Errorf("strategy %q: %w", bp.Name, err)
			}
		}
		next = bp.NextSubVaultID()
		blueprints = append(blueprints, bp)
	}
	if len(blueprints) == 0 {
		return nil, fmt.Errorf("network %s defines no strategies; set REGISTRY_PATH to a registry with a strategies table", network.Name)
	}
	return blueprints, nil
}

// newApp wires store, factory, tracker, policy engine, executor and optimiser.
func newApp(ctx context.Context) (*app, error) {
	if config.EthRPC == "" {
		return nil, fmt.Errorf("environment variable ETH_RPC_URL not set")
	}

	store, err := openStore()
	if err != nil {
		return nil, err
	}
	a := &app{store: store, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			if a.client != nil {
				a.client.Close()
			}
			store.Close()
		}
	}()

	v := validator.New(config.TickSpacing)
	a.factory, err = strategy.NewFactory(strategy.Config{
		Validator:  v,
		Gate:       roles.NewRegistry(roles.FullGrant(config.AdminAddress)...),
		Governance: strategy.NewDelayedGovernance(config.DefaultGovernanceDelay, nil),
	})
	if err != nil {
		return nil, err
	}
	blueprints, err := deployStrategies(v, a.factory)
	if err != nil {
		return nil, err
	}

	a.tracker = tracker.New()
	a.engine, err = policy.NewEngine(a.tracker, policy.Config{DriftThreshold: config.DriftThreshold})
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(executor.Config{MinInstructionAmount: config.MinInstructionAmount})
	if err != nil {
		return nil, err
	}
	a.optimiser, err = optimiser.NewOptimiser(optimiser.Config{
		Strategies: a.factory,
		Tracker:    a.tracker,
		Poller:     tracker.NewPoller(a.tracker, nil),
		Engine:     a.engine,
		Executor:   exec,
		Store:      store,
		Metrics:    a.metrics,
		Mode:       config.Mode,
	})
	if err != nil {
		return nil, err
	}

	a.client, err = marginengine.Dial(ctx, config.EthRPC)
	if err != nil {
		return nil, err
	}
	for _, bp := range blueprints {
		for _, sv := range bp.SubVaults {
			if err := a.optimiser.Track(sv, marginengine.NewEthReader(a.client, sv.MarginEngine)); err != nil {
				return nil, err
			}
		}
	}
	for _, inst := range a.factory.List() {
		// no live vault: holdings are simulated from the strategy cap, and the first paper cycle
		// after a restart redeploys them to the restored allocation
		a.optimiser.AttachVault(inst.ID, vault.NewPaperVault(inst.Params.TokenLimit))
	}

	if err := a.optimiser.Restore(); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}
