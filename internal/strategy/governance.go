package strategy

import (
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// DefaultGovernanceDelay matches the protocol governance finalisation delay.
const DefaultGovernanceDelay = 24 * time.Hour

// Governance stages fee and limit changes and commits them after a fixed delay.
type Governance interface {
	Stage(id types.StrategyID, params types.StrategyParams) error
	Commit(id types.StrategyID) (types.StrategyParams, error)
}

type pendingParams struct {
	params   types.StrategyParams
	stagedAt time.Time
}

// DelayedGovernance is an in-process Governance with a fixed delay. Staging again replaces the
// pending change and restarts the delay.
type DelayedGovernance struct {
	delay time.Duration
	clock func() time.Time

	mu      sync.Mutex
	pending map[types.StrategyID]pendingParams
}

// NewDelayedGovernance returns a governance with the given delay; zero uses DefaultGovernanceDelay.
func NewDelayedGovernance(delay time.Duration, clock func() time.Time) *DelayedGovernance {
	if delay == 0 {
		delay = DefaultGovernanceDelay
	}
	if clock == nil {
		clock = time.Now
	}
	return &DelayedGovernance{
		delay:   delay,
		clock:   clock,
		pending: make(map[types.StrategyID]pendingParams),
	}
}

func (g *DelayedGovernance) Stage(id types.StrategyID, params types.StrategyParams) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[id] = pendingParams{params: params, stagedAt: g.clock()}
	return nil
}

func (g *DelayedGovernance) Commit(id types.StrategyID) (types.StrategyParams, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[id]
	if !ok {
		return types.StrategyParams{}, errorsmod.Wrapf(types.ErrNotFound, "no staged params for strategy %s", id)
	}
	if readyAt := p.stagedAt.Add(g.delay); g.clock().Before(readyAt) {
		return types.StrategyParams{}, errorsmod.Wrapf(types.ErrGovernanceDelay,
			"strategy %s params can be committed at %s", id, readyAt.Format(time.RFC3339))
	}
	delete(g.pending, id)
	return p.params, nil
}

// Pending returns the staged params of a strategy and when they can be committed.
func (g *DelayedGovernance) Pending(id types.StrategyID) (types.StrategyParams, time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return types.StrategyParams{}, time.Time{}, false
	}
	return p.params, p.stagedAt.Add(g.delay), true
}
