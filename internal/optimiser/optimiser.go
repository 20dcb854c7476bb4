package optimiser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/config"
	"github.com/voltz-protocol/lp-optimiser/internal/executor"
	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/marginengine"
	"github.com/voltz-protocol/lp-optimiser/internal/metrics"
	"github.com/voltz-protocol/lp-optimiser/internal/policy"
	"github.com/voltz-protocol/lp-optimiser/internal/state"
	"github.com/voltz-protocol/lp-optimiser/internal/tracker"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/vault"
)

// Strategies is the source of the strategy instances to rebalance.
type Strategies interface {
	List() []*types.StrategyInstance
}

// Optimiser drives observation and rebalance cycles for every strategy instance
type Optimiser struct {
	logger zerolog.Logger

	strategies Strategies
	tracker    *tracker.Tracker
	poller     *tracker.Poller
	engine     *policy.Engine
	executor   *executor.Executor
	store      *state.Store
	metrics    *metrics.Metrics
	mode       string
	clock      func() time.Time

	mu     sync.RWMutex
	vaults map[types.StrategyID]vault.HoldingVault
}

// Config holds the configuration for creating a new Optimiser instance
type Config struct {
	Strategies Strategies
	Tracker    *tracker.Tracker
	Poller     *tracker.Poller
	Engine     *policy.Engine
	Executor   *executor.Executor
	Store      *state.Store
	Metrics    *metrics.Metrics // optional
	Mode       string           // config.ModePaper or config.ModePlan
	Clock      func() time.Time
}

// NewOptimiser creates a new Optimiser instance with dependency injection
func NewOptimiser(cfg Config) (*Optimiser, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("optimiser configuration validation failed: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	o := &Optimiser{
		logger:     logger.GetForComponent("optimiser"),
		strategies: cfg.Strategies,
		tracker:    cfg.Tracker,
		poller:     cfg.Poller,
		engine:     cfg.Engine,
		executor:   cfg.Executor,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		mode:       cfg.Mode,
		clock:      cfg.Clock,
		vaults:     make(map[types.StrategyID]vault.HoldingVault),
	}
	if o.metrics != nil {
		o.poller.OnObserve(o.metrics.Observed)
	}

	o.logger.Info().Str("mode", o.mode).Msg("Optimiser created")
	return o, nil
}

func validateConfig(cfg Config) error {
	if cfg.Strategies == nil {
		return fmt.Errorf("strategies cannot be nil")
	}
	if cfg.Tracker == nil {
		return fmt.Errorf("tracker cannot be nil")
	}
	if cfg.Poller == nil {
		return fmt.Errorf("poller cannot be nil")
	}
	if cfg.Engine == nil {
		return fmt.Errorf("policy engine cannot be nil")
	}
	if cfg.Executor == nil {
		return fmt.Errorf("executor cannot be nil")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if cfg.Mode != config.ModePaper && cfg.Mode != config.ModePlan {
		return fmt.Errorf("mode must be %q or %q, got %q", config.ModePaper, config.ModePlan, cfg.Mode)
	}
	return nil
}

// Mode returns the execution mode.
func (o *Optimiser) Mode() string {
	return o.mode
}

// Track registers a sub-vault with the tracker and attaches its margin engine.
func (o *Optimiser) Track(cfg types.SubVaultConfig, engine marginengine.MarginEngine) error {
	if err := o.tracker.Register(cfg.ID, cfg.LookbackWindow()); err != nil {
		return err
	}
	return o.poller.Add(cfg.ID, engine)
}

// AttachVault sets the holding vault a strategy instance plans against and, in paper mode,
// dispatches to.
func (o *Optimiser) AttachVault(id types.StrategyID, v vault.HoldingVault) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vaults[id] = v
}

func (o *Optimiser) vaultFor(id types.StrategyID) (vault.HoldingVault, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.vaults[id]
	return v, ok
}

// Restore loads the committed allocation states persisted by previous runs into the engine.
// States of instances that are no longer configured are ignored.
func (o *Optimiser) Restore() error {
	states, err := o.store.LoadAllocationStates()
	if err != nil {
		return fmt.Errorf("failed to load allocation states: %w", err)
	}
	restored := 0
	for _, inst := range o.strategies.List() {
		st, ok := states[inst.ID]
		if !ok {
			continue
		}
		if err := o.engine.Restore(st); err != nil {
			return fmt.Errorf("failed to restore allocation of %s: %w", inst.ID, err)
		}
		restored++
	}
	o.logger.Info().Int("restored", restored).Int("persisted", len(states)).Msg("Allocation states restored")
	return nil
}

// Observe polls every attached margin engine once and exports the resulting estimates.
func (o *Optimiser) Observe(ctx context.Context) error {
	ids := o.poller.SubVaults()
	err := o.poller.PollAll(ctx, ids)

	if o.metrics != nil {
		estimates := make([]types.Estimate, 0, len(ids))
		for _, id := range ids {
			if est, estErr := o.tracker.CurrentEstimate(id); estErr == nil {
				estimates = append(estimates, est)
			}
		}
		o.metrics.Estimates(estimates)
	}
	return err
}

// Close releases every attached holding vault.
func (o *Optimiser) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for id, v := range o.vaults {
		if err := v.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vault of %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RunLoop starts the main optimiser loop with the specified interval
func (o *Optimiser) RunLoop(ctx context.Context, interval time.Duration) {
	o.logger.Info().
		Dur("interval", interval).
		Msg("Starting optimiser main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	o.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Optimiser loop stopped due to context cancellation")
			return
		case <-ticker.C:
			o.runLogged(ctx)
		}
	}
}

func (o *Optimiser) runLogged(ctx context.Context) {
	if _, err := o.RunCycle(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Optimiser cycle finished with errors")
	}
}

// RunCycle runs one rebalance cycle for every strategy instance. Instances are independent:
// a failing one is recorded and the others still run. The returned snapshots are the ones
// persisted, in instance order.
func (o *Optimiser) RunCycle(ctx context.Context) ([]types.CycleSnapshot, error) {
	cycleNumber, err := o.store.IncrementCycleNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	var (
		snapshots []types.CycleSnapshot
		errs      []error
	)
	for _, inst := range o.strategies.List() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		snapshot, err := o.RunInstance(ctx, inst, cycleNumber)
		if snapshot != nil {
			snapshots = append(snapshots, *snapshot)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("strategy %s: %w", inst.ID, err))
		}
	}
	return snapshots, errors.Join(errs...)
}

// RunInstance runs one rebalance cycle for a single instance and persists its snapshot,
// including when the cycle fails.
func (o *Optimiser) RunInstance(ctx context.Context, inst *types.StrategyInstance, cycleNumber uint64) (*types.CycleSnapshot, error) {
	cycleStartTime := o.clock()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := o.logger.With().
		Str("cycle_id", cycleID).
		Str("instance", string(inst.ID)).
		Logger()

	cycleLogger.Info().Uint64("cycleNumber", cycleNumber).Msg("--- Starting optimiser cycle ---")

	snapshot := types.CycleSnapshot{
		StrategyID:  inst.ID,
		CycleNumber: cycleNumber,
		CycleID:     cycleID,
		Timestamp:   cycleStartTime,
		Mode:        o.mode,
	}

	err := o.runInstance(ctx, inst, &snapshot, cycleLogger)
	elapsed := o.clock().Sub(cycleStartTime)
	if err != nil {
		snapshot.Error = err.Error()
		if o.metrics != nil {
			o.metrics.CycleFailed(inst.ID, err, elapsed)
		}
		if types.IsTransient(err) {
			cycleLogger.Warn().Err(err).Msg("Cycle skipped, will retry next cycle")
		} else {
			cycleLogger.Error().Err(err).Msg("Cycle aborted")
		}
	}

	id, saveErr := o.store.SaveCycleSnapshot(snapshot)
	if saveErr != nil {
		cycleLogger.Error().Err(saveErr).Msg("Failed to save cycle snapshot")
		return &snapshot, errors.Join(err, fmt.Errorf("failed to save cycle snapshot: %w", saveErr))
	}
	snapshot.ID = id

	cycleLogger.Info().
		Dur("duration", elapsed).
		Int64("snapshotID", id).
		Str("decision", string(snapshot.Decision)).
		Msg("--- Optimiser cycle complete ---")
	return &snapshot, err
}

func (o *Optimiser) runInstance(ctx context.Context, inst *types.StrategyInstance, snapshot *types.CycleSnapshot, cycleLogger zerolog.Logger) error {
	start := o.clock()

	// --- Step 1: Observation ---
	cycleLogger.Info().Msg("Step 1: Polling margin engines...")
	if err := o.poller.PollAll(ctx, inst.SubVaultIDs()); err != nil {
		// a failed read records nothing, the policy runs on the history already held
		cycleLogger.Warn().Err(err).Msg("Step 1: Some margin engines could not be read")
	}

	// --- Step 2: Holdings ---
	v, hasVault := o.vaultFor(inst.ID)
	var (
		holdings types.Holdings
		opts     policy.CycleOptions
	)
	if hasVault {
		var err error
		if holdings, err = vault.Holdings(ctx, v); err != nil {
			return fmt.Errorf("failed to read holdings: %w", err)
		}
		// only dispatched paper holdings follow the committed allocation
		if o.mode == config.ModePaper {
			if opts.Held, err = executor.HeldFractions(inst, holdings); err != nil {
				return fmt.Errorf("failed to derive held fractions: %w", err)
			}
		}
		cycleLogger.Info().Str("idle", holdings.Idle.String()).Int("positions", len(holdings.Balances)).Msg("Step 2: Holdings read.")
	} else {
		cycleLogger.Warn().Msg("Step 2: No holding vault attached, instructions will not be planned")
	}

	// --- Step 3: Policy, planning and commit ---
	cycleLogger.Info().Msg("Step 3: Scoring sub-vaults and deciding...")
	var plan *types.InstructionPlan
	opts.Prepare = func(result *types.AllocationResult, next types.AllocationState) error {
		if hasVault {
			var err error
			if plan, err = o.executor.Plan(inst, result.Targets, holdings); err != nil {
				return fmt.Errorf("failed to generate instruction plan: %w", err)
			}
		}
		if err := o.store.SaveAllocationState(next); err != nil {
			return fmt.Errorf("failed to persist allocation state: %w", err)
		}
		return nil
	}
	result, err := o.engine.RunCycleWith(inst, opts)
	if err != nil {
		return err
	}
	snapshot.Decision = result.Decision
	snapshot.Targets = result.Targets
	snapshot.Previous = result.Previous
	snapshot.Scores = result.Scores
	snapshot.Plan = plan
	if o.metrics != nil {
		o.metrics.CycleCompleted(result, o.clock().Sub(start))
	}
	cycleLogger.Info().
		Str("decision", string(result.Decision)).
		Str("maxDrift", fixedpoint.FormatWad(result.MaxDrift)).
		Uint64("allocationCycle", result.Cycle).
		Msg("Step 3: Policy decision made.")

	if result.Decision != types.DecisionRebalanceRequired {
		cycleLogger.Info().Msg("No rebalancing needed.")
		return nil
	}
	if plan == nil {
		return nil
	}

	// --- Step 4: Instruction plan ---
	if len(plan.Instructions) == 0 {
		cycleLogger.Info().Msg("No instructions required.")
		return nil
	}
	planJSON, _ := json.MarshalIndent(plan.Instructions, "", "  ")
	cycleLogger.Info().
		Int("withdrawals", len(plan.Withdrawals())).
		Int("deposits", len(plan.Deposits())).
		Str("instructionPlan", string(planJSON)).
		Msg("Step 4: Instruction plan generated.")

	// --- Step 5: Dispatch ---
	if o.mode != config.ModePaper {
		cycleLogger.Info().Msg("Step 5: Plan mode, instructions not dispatched.")
		return nil
	}
	cycleLogger.Info().Msg("Step 5: Dispatching instructions...")
	receipts, err := o.executor.Dispatch(ctx, v, plan)
	snapshot.Receipts = receipts
	if o.metrics != nil {
		o.metrics.Dispatched(inst.ID, receipts)
	}
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}
	cycleLogger.Info().Int("dispatched", len(receipts)).Msg("Step 5: Instructions dispatched.")
	return nil
}
