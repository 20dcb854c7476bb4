package tracker

import (
	"math/big"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// MaxSamples caps every series regardless of its lookback window.
const MaxSamples = 4096

// MinSamples is the history needed before an estimate is available.
const MinSamples = 2

type series struct {
	mu      sync.Mutex
	window  time.Duration
	samples []types.Sample
}

// Tracker keeps a rolling window of margin-engine samples per sub-vault.
//
// Observe on different sub-vaults runs in parallel, writes to one sub-vault are serialised by
// its series lock. Observers hold the tracker read lock for the whole write, so Snapshot, which
// takes the write lock, never sees a half-applied round of observations.
type Tracker struct {
	mu         sync.RWMutex
	series     map[types.SubVaultID]*series
	maxSamples int
	logger     zerolog.Logger
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		series:     make(map[types.SubVaultID]*series),
		maxSamples: MaxSamples,
		logger:     logger.GetForComponent("tracker"),
	}
}

// Register makes a sub-vault observable with the given lookback window (0 keeps every sample up
// to MaxSamples). Registering again only updates the window.
func (t *Tracker) Register(id types.SubVaultID, window time.Duration) error {
	if window < 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "sub-vault %d: negative lookback window %s", id, window)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.series[id]; ok {
		s.mu.Lock()
		s.window = window
		s.mu.Unlock()
		return nil
	}
	t.series[id] = &series{window: window}
	t.logger.Debug().Uint64("subVaultID", uint64(id)).Dur("window", window).Msg("Registered sub-vault")
	return nil
}

// Observe records a rate sample. It returns false, leaving the history untouched, when timestamp
// is not strictly after the last recorded sample.
func (t *Tracker) Observe(id types.SubVaultID, rate sdkmath.Int, timestamp time.Time) (bool, error) {
	return t.ObserveSample(id, types.Sample{Rate: rate, Timestamp: timestamp})
}

// ObserveSample is Observe with the liquidity read alongside the rate.
func (t *Tracker) ObserveSample(id types.SubVaultID, sample types.Sample) (bool, error) {
	if sample.Rate.IsNil() || sample.Rate.IsNegative() {
		return false, errorsmod.Wrapf(types.ErrOverflow, "sub-vault %d: rate must be a non-negative integer", id)
	}
	if sample.Liquidity.IsNil() {
		sample.Liquidity = sdkmath.ZeroInt()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.series[id]
	if !ok {
		return false, errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.samples); n > 0 && !sample.Timestamp.After(s.samples[n-1].Timestamp) {
		t.logger.Debug().
			Uint64("subVaultID", uint64(id)).
			Time("timestamp", sample.Timestamp).
			Time("last", s.samples[n-1].Timestamp).
			Msg("Ignoring duplicate or out-of-order observation")
		return false, nil
	}

	s.evict(sample.Timestamp, t.maxSamples-1)
	s.samples = append(s.samples, sample)
	return true, nil
}

// evict drops samples older than the window relative to now and keeps at most keep samples.
func (s *series) evict(now time.Time, keep int) {
	drop := 0
	if s.window > 0 {
		cutoff := now.Add(-s.window)
		for drop < len(s.samples) && s.samples[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if excess := len(s.samples) - drop - keep; excess > 0 {
		drop += excess
	}
	if drop > 0 {
		s.samples = append(s.samples[:0], s.samples[drop:]...)
	}
}

// CurrentEstimate returns the mean rate and its volatility over the window.
func (t *Tracker) CurrentEstimate(id types.SubVaultID) (types.Estimate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.estimateLocked(id)
}

// Snapshot returns mutually consistent estimates for ids, failing on the first sub-vault
// without enough history.
func (t *Tracker) Snapshot(ids []types.SubVaultID) (map[types.SubVaultID]types.Estimate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[types.SubVaultID]types.Estimate, len(ids))
	for _, id := range ids {
		est, err := t.estimateLocked(id)
		if err != nil {
			return nil, err
		}
		out[id] = est
	}
	return out, nil
}

// Samples returns a copy of the current window of a sub-vault.
func (t *Tracker) Samples(id types.SubVaultID) ([]types.Sample, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.series[id]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Sample(nil), s.samples...), nil
}

// Registered returns whether id has been registered.
func (t *Tracker) Registered(id types.SubVaultID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.series[id]
	return ok
}

// estimateLocked requires t.mu held in either mode.
func (t *Tracker) estimateLocked(id types.SubVaultID) (types.Estimate, error) {
	s, ok := t.series[id]
	if !ok {
		return types.Estimate{}, errorsmod.Wrapf(types.ErrUnknownSubVault, "sub-vault %d", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.samples)
	if n < MinSamples {
		return types.Estimate{}, errorsmod.Wrapf(types.ErrInsufficientHistory,
			"sub-vault %d has %d samples, need %d", id, n, MinSamples)
	}

	mean, sigma := meanAndStdDev(s.samples)
	last := s.samples[n-1]
	return types.Estimate{
		SubVaultID: id,
		Rate:       mean,
		Sigma:      sigma,
		Latest:     last.Rate,
		Liquidity:  last.Liquidity,
		Samples:    n,
		From:       s.samples[0].Timestamp,
		To:         last.Timestamp,
	}, nil
}

// meanAndStdDev returns floor(mean) and floor(population standard deviation) computed exactly:
// sigma = isqrt((n*sum(x^2) - sum(x)^2) / n^2).
func meanAndStdDev(samples []types.Sample) (sdkmath.Int, sdkmath.Int) {
	n := big.NewInt(int64(len(samples)))
	sum := new(big.Int)
	sumSq := new(big.Int)
	sq := new(big.Int)
	for _, s := range samples {
		x := s.Rate.BigInt()
		sum.Add(sum, x)
		sumSq.Add(sumSq, sq.Mul(x, x))
	}

	mean := new(big.Int).Quo(sum, n)

	spread := new(big.Int).Mul(n, sumSq)
	spread.Sub(spread, new(big.Int).Mul(sum, sum))
	spread.Quo(spread, new(big.Int).Mul(n, n))
	sigma := new(big.Int).Sqrt(spread)

	return sdkmath.NewIntFromBigInt(mean), sdkmath.NewIntFromBigInt(sigma)
}
