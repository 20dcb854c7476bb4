/*

This file contains the margin-engine collaborator polled by the statistics tracker.

A margin engine is only ever read. Rates are returned as percent-Wad fixed rates derived
from the VAMM sqrt price; liquidity is the raw VAMM in-range liquidity.

*/

package marginengine

import (
	"context"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// MarginEngine is the read-only view of one sub-vault's market.
type MarginEngine interface {
	CurrentRate(ctx context.Context) (sdkmath.Int, error)
	CurrentLiquidity(ctx context.Context) (sdkmath.Int, error)
}

// Static is an in-memory MarginEngine for paper runs and tests.
type Static struct {
	mu        sync.RWMutex
	rate      sdkmath.Int
	liquidity sdkmath.Int
	err       error
}

// NewStatic returns a Static engine reporting rate and liquidity.
func NewStatic(rate, liquidity sdkmath.Int) *Static {
	return &Static{rate: rate, liquidity: liquidity}
}

// Set replaces the reported values.
func (s *Static) Set(rate, liquidity sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate, s.liquidity = rate, liquidity
}

// Fail makes every read return err until cleared with Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) CurrentRate(ctx context.Context) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return sdkmath.Int{}, s.err
	}
	return s.rate, nil
}

func (s *Static) CurrentLiquidity(ctx context.Context) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return sdkmath.Int{}, s.err
	}
	return s.liquidity, nil
}
