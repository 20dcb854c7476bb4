package policy

import (
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// Statistics is the consistent-snapshot view of the tracker.
type Statistics interface {
	Snapshot(ids []types.SubVaultID) (map[types.SubVaultID]types.Estimate, error)
}

// Config holds the configuration for creating a new Engine
type Config struct {
	// DriftThreshold is the Wad deviation of any single fraction above which a rebalance fires.
	DriftThreshold sdkmath.Int
	Clock          func() time.Time
}

// Engine is the single writer of every strategy instance's AllocationState.
type Engine struct {
	stats          Statistics
	driftThreshold sdkmath.Int
	clock          func() time.Time
	logger         zerolog.Logger

	mu      sync.Mutex
	states  map[types.StrategyID]types.AllocationState
	running map[types.StrategyID]*sync.Mutex
}

// NewEngine creates an engine reading statistics from stats.
func NewEngine(stats Statistics, cfg Config) (*Engine, error) {
	if stats == nil {
		return nil, fmt.Errorf("statistics source cannot be nil")
	}
	if cfg.DriftThreshold.IsNil() || cfg.DriftThreshold.IsNegative() {
		return nil, errorsmod.Wrap(types.ErrInvalidConfig, "drift threshold must be set and non-negative")
	}
	if cfg.DriftThreshold.GT(fixedpoint.WAD) {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "drift threshold %s exceeds 1e18", cfg.DriftThreshold)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		stats:          stats,
		driftThreshold: cfg.DriftThreshold,
		clock:          cfg.Clock,
		logger:         logger.GetForComponent("policy_engine"),
		states:         make(map[types.StrategyID]types.AllocationState),
		running:        make(map[types.StrategyID]*sync.Mutex),
	}, nil
}

// DriftThreshold returns the configured threshold.
func (e *Engine) DriftThreshold() sdkmath.Int {
	return e.driftThreshold
}

// Restore seeds the committed state of an instance, typically from the store at boot.
func (e *Engine) Restore(state types.AllocationState) error {
	sum := sdkmath.ZeroInt()
	for id, f := range state.Fractions {
		if f.IsNil() || f.IsNegative() {
			return errorsmod.Wrapf(types.ErrInvalidConfig, "restored fraction for sub-vault %d is invalid", id)
		}
		sum = sum.Add(f)
	}
	if !sum.Equal(fixedpoint.WAD) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "restored fractions of %s sum to %s", state.StrategyID, sum)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	state.Fractions = state.Fractions.Clone()
	e.states[state.StrategyID] = state
	return nil
}

// State returns a copy of the committed state of an instance.
func (e *Engine) State(id types.StrategyID) (types.AllocationState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return types.AllocationState{}, false
	}
	st.Fractions = st.Fractions.Clone()
	return st, true
}

func (e *Engine) cycleLock(id types.StrategyID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.running[id]
	if !ok {
		l = &sync.Mutex{}
		e.running[id] = l
	}
	return l
}

// Evaluate computes targets and a decision against the committed state without committing.
func (e *Engine) Evaluate(inst *types.StrategyInstance) (*types.AllocationResult, error) {
	if inst == nil {
		return nil, fmt.Errorf("strategy instance cannot be nil")
	}
	if !inst.HasPositiveWeight() {
		return nil, errorsmod.Wrapf(types.ErrZeroTotalWeight, "strategy %s", inst.ID)
	}

	ids := make([]types.SubVaultID, 0, len(inst.SubVaults))
	for _, sv := range inst.SubVaults {
		if sv.Weight.Weight > 0 {
			ids = append(ids, sv.Config.ID)
		}
	}
	estimates, err := e.stats.Snapshot(ids)
	if err != nil {
		return nil, err
	}

	scores, targets, err := ComputeTargets(inst.SubVaults, estimates)
	if err != nil {
		return nil, err
	}

	committed, hasCommitted := e.State(inst.ID)
	var previous types.Fractions
	if hasCommitted {
		previous = committed.Fractions
	}
	decision, maxDrift := Decide(targets, previous, e.driftThreshold)

	return &types.AllocationResult{
		StrategyID: inst.ID,
		Cycle:      committed.Cycle,
		Decision:   decision,
		Targets:    targets,
		Previous:   previous,
		MaxDrift:   maxDrift,
		Scores:     scores,
	}, nil
}

// CycleOptions extend a single RunCycleWith call.
type CycleOptions struct {
	// Held are the fractions the holding vault actually carries. When set, a deviation from
	// the targets above the drift threshold also requires a rebalance.
	Held types.Fractions

	// Prepare runs once a rebalance is decided, before it is committed, with the state about
	// to be committed. An error aborts the cycle and leaves the committed state untouched.
	Prepare func(result *types.AllocationResult, next types.AllocationState) error
}

// RunCycle is one all-or-nothing policy cycle: snapshot, score, decide, and commit the new
// fractions only when a rebalance is required. Any error leaves the committed state untouched.
// Cycles for the same instance never overlap.
func (e *Engine) RunCycle(inst *types.StrategyInstance) (*types.AllocationResult, error) {
	return e.RunCycleWith(inst, CycleOptions{})
}

// RunCycleWith runs a policy cycle like RunCycle, checking held fractions and running
// opts.Prepare under the instance's cycle lock before committing.
func (e *Engine) RunCycleWith(inst *types.StrategyInstance, opts CycleOptions) (*types.AllocationResult, error) {
	if inst == nil {
		return nil, fmt.Errorf("strategy instance cannot be nil")
	}
	lock := e.cycleLock(inst.ID)
	if !lock.TryLock() {
		return nil, errorsmod.Wrapf(types.ErrCycleInProgress, "strategy %s", inst.ID)
	}
	defer lock.Unlock()

	log := e.logger.With().Str("instance", string(inst.ID)).Logger()

	result, err := e.Evaluate(inst)
	if err != nil {
		log.Warn().Err(err).Msg("Policy cycle aborted, allocation state unchanged")
		return nil, err
	}

	if result.Decision == types.DecisionNoActionNeeded && opts.Held != nil {
		decision, heldDrift := Decide(result.Targets, opts.Held, e.driftThreshold)
		if decision == types.DecisionRebalanceRequired {
			log.Info().
				Str("heldDrift", fixedpoint.FormatWad(heldDrift)).
				Msg("Holdings drifted from the committed allocation")
			result.Decision = decision
			result.MaxDrift = heldDrift
		}
	}

	if result.Decision == types.DecisionRebalanceRequired {
		next := types.AllocationState{
			StrategyID:  inst.ID,
			Cycle:       result.Cycle + 1,
			Fractions:   result.Targets.Clone(),
			CommittedAt: e.clock(),
		}
		if opts.Prepare != nil {
			if err := opts.Prepare(result, next); err != nil {
				log.Warn().Err(err).Msg("Policy cycle aborted before commit, allocation state unchanged")
				return nil, err
			}
		}
		result.Cycle = next.Cycle
		e.mu.Lock()
		e.states[inst.ID] = next
		e.mu.Unlock()
	}

	log.Info().
		Str("decision", string(result.Decision)).
		Str("maxDrift", fixedpoint.FormatWad(result.MaxDrift)).
		Uint64("allocationCycle", result.Cycle).
		Msg("Policy cycle complete")
	return result, nil
}
