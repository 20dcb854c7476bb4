package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/marginengine"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// DefaultPollConcurrency bounds the number of margin engines read at once.
const DefaultPollConcurrency = 8

// Poller feeds the tracker from margin engines.
type Poller struct {
	tracker     *Tracker
	clock       func() time.Time
	concurrency int
	logger      zerolog.Logger

	mu        sync.RWMutex
	engines   map[types.SubVaultID]marginengine.MarginEngine
	onObserve func(id types.SubVaultID, recorded bool, err error)
}

// NewPoller returns a poller stamping samples with clock (time.Now when nil).
func NewPoller(t *Tracker, clock func() time.Time) *Poller {
	if clock == nil {
		clock = time.Now
	}
	return &Poller{
		tracker:     t,
		clock:       clock,
		concurrency: DefaultPollConcurrency,
		logger:      logger.GetForComponent("poller"),
		engines:     make(map[types.SubVaultID]marginengine.MarginEngine),
	}
}

// Add attaches the margin engine of a registered sub-vault.
func (p *Poller) Add(id types.SubVaultID, engine marginengine.MarginEngine) error {
	if !p.tracker.Registered(id) {
		return errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines[id] = engine
	return nil
}

// OnObserve installs a callback run after every poll made by PollAll.
func (p *Poller) OnObserve(fn func(id types.SubVaultID, recorded bool, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onObserve = fn
}

// SubVaults returns the IDs with an attached margin engine.
func (p *Poller) SubVaults() []types.SubVaultID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]types.SubVaultID, 0, len(p.engines))
	for id := range p.engines {
		ids = append(ids, id)
	}
	return ids
}

// Poll reads one margin engine and records the sample.
func (p *Poller) Poll(ctx context.Context, id types.SubVaultID) (bool, error) {
	p.mu.RLock()
	engine, ok := p.engines[id]
	p.mu.RUnlock()
	if !ok {
		return false, errorsmod.Wrapf(types.ErrUnknownSubVault, "no margin engine for sub-vault %d", id)
	}

	rate, err := engine.CurrentRate(ctx)
	if err != nil {
		return false, fmt.Errorf("sub-vault %d: reading rate: %w", id, err)
	}
	liquidity, err := engine.CurrentLiquidity(ctx)
	if err != nil {
		return false, fmt.Errorf("sub-vault %d: reading liquidity: %w", id, err)
	}

	return p.tracker.ObserveSample(id, types.Sample{
		Rate:      rate,
		Liquidity: liquidity,
		Timestamp: p.clock(),
	})
}

// PollAll reads every listed sub-vault in parallel. A failing engine does not stop the others;
// all failures are joined into the returned error.
func (p *Poller) PollAll(ctx context.Context, ids []types.SubVaultID) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	p.mu.RLock()
	hook := p.onObserve
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			recorded, err := p.Poll(gctx, id)
			if hook != nil {
				hook(id, recorded, err)
			}
			if err != nil {
				p.logger.Warn().Err(err).Uint64("subVaultID", uint64(id)).Msg("Failed to poll margin engine")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			p.logger.Debug().Uint64("subVaultID", uint64(id)).Bool("recorded", recorded).Msg("Polled margin engine")
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
