package policy

import (
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/tracker"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

var t0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func wadFrac(s string) sdkmath.Int {
	w, err := fixedpoint.ParseWad(s)
	if err != nil {
		panic(err)
	}
	return w
}

func subVault(id types.SubVaultID, weight uint64, sigma, proximity string) types.SubVault {
	return types.SubVault{
		Config: types.SubVaultConfig{ID: id, TickLower: -60, TickUpper: 60},
		Weight: types.StrategyWeightConfig{
			Sigma:                 wadFrac(sigma),
			Proximity:             wadFrac(proximity),
			MaxPossibleLowerBound: wadFrac("1.5"),
			Weight:                weight,
		},
	}
}

func instance(subVaults ...types.SubVault) *types.StrategyInstance {
	return &types.StrategyInstance{ID: "test", SubVaults: subVaults}
}

// flatEstimates returns estimates whose observed sigma is zero, so configured sigma decides.
func flatEstimates(ids ...types.SubVaultID) map[types.SubVaultID]types.Estimate {
	out := make(map[types.SubVaultID]types.Estimate, len(ids))
	for _, id := range ids {
		out[id] = types.Estimate{SubVaultID: id, Rate: fixedpoint.WAD, Sigma: sdkmath.ZeroInt(), Samples: 2}
	}
	return out
}

func sum(f types.Fractions) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, v := range f {
		total = total.Add(v)
	}
	return total
}

func TestEqualWeightsSplitEvenly(t *testing.T) {
	inst := instance(subVault(1, 100, "0.3", "0.1"), subVault(2, 100, "0.3", "0.1"))
	_, targets, err := ComputeTargets(inst.SubVaults, flatEstimates(1, 2))
	require.NoError(t, err)
	assert.Equal(t, wadFrac("0.5").String(), targets[1].String())
	assert.Equal(t, wadFrac("0.5").String(), targets[2].String())
}

func TestSigmaBeyondProximityIsPenalised(t *testing.T) {
	// A within its proximity band, B exceeds it by 0.1
	inst := instance(subVault(1, 100, "0.3", "0.3"), subVault(2, 15, "0.4", "0.3"))
	scores, targets, err := ComputeTargets(inst.SubVaults, flatEstimates(1, 2))
	require.NoError(t, err)

	assert.True(t, scores[0].Excess.IsZero())
	assert.Equal(t, wadFrac("0.1").String(), scores[1].Excess.String())

	// A > 100/115  <=>  A*115 > 100*1e18
	lhs := targets[1].MulRaw(115)
	rhs := fixedpoint.WAD.MulRaw(100)
	assert.True(t, lhs.GT(rhs), "fraction %s", targets[1])
	assert.True(t, fixedpoint.WAD.Equal(sum(targets)))
}

func TestFractionsSumToOne(t *testing.T) {
	configs := [][]uint64{
		{1, 1, 1},
		{100, 85, 15},
		{7, 0, 13, 29},
		{1, 1, 1, 1, 1, 1, 1},
		{3},
	}
	for _, weights := range configs {
		var svs []types.SubVault
		var ids []types.SubVaultID
		for i, w := range weights {
			id := types.SubVaultID(i + 1)
			sigma := []string{"0.3", "0.499999762330392", "1.059469974466510", "0.1"}[i%4]
			svs = append(svs, subVault(id, w, sigma, "0.0957856771233157"))
			ids = append(ids, id)
		}
		_, targets, err := ComputeTargets(svs, flatEstimates(ids...))
		require.NoError(t, err)
		assert.True(t, fixedpoint.WAD.Equal(sum(targets)), "weights %v sum %s", weights, sum(targets))
	}
}

func TestZeroWeightGetsNothing(t *testing.T) {
	inst := instance(subVault(1, 0, "0.3", "0.1"), subVault(2, 85, "0.3", "0.1"), subVault(3, 15, "0.3", "0.1"))
	// the zero-weight sub-vault needs no statistics
	scores, targets, err := ComputeTargets(inst.SubVaults, flatEstimates(2, 3))
	require.NoError(t, err)
	assert.True(t, targets[1].IsZero())
	assert.True(t, scores[0].Score.IsZero())
	assert.Equal(t, wadFrac("0.85").String(), targets[2].String())
	assert.Equal(t, wadFrac("0.15").String(), targets[3].String())
}

func TestAllWeightsZero(t *testing.T) {
	inst := instance(subVault(1, 0, "0.3", "0.1"), subVault(2, 0, "0.3", "0.1"))
	_, _, err := ComputeTargets(inst.SubVaults, flatEstimates(1, 2))
	require.ErrorIs(t, err, types.ErrZeroTotalWeight)

	tr := tracker.New()
	engine, err := NewEngine(tr, Config{DriftThreshold: wadFrac("0.01")})
	require.NoError(t, err)
	_, err = engine.RunCycle(inst)
	require.ErrorIs(t, err, types.ErrZeroTotalWeight)
}

func TestMonotonicInSigma(t *testing.T) {
	prev := fixedpoint.WAD
	for k := int64(0); k < 200; k++ {
		sigma := sdkmath.NewInt(k).Mul(sdkmath.NewIntWithDecimal(1, 16)).AddRaw(12345)
		a := subVault(1, 100, "0", "0.1")
		a.Weight.Sigma = sigma
		inst := instance(a, subVault(2, 85, "0.5", "0.0957856771233157"), subVault(3, 15, "0.3", "0.1"))

		_, targets, err := ComputeTargets(inst.SubVaults, flatEstimates(1, 2, 3))
		require.NoError(t, err)
		assert.True(t, targets[1].LTE(prev), "sigma %s raised the fraction from %s to %s", sigma, prev, targets[1])
		prev = targets[1]
	}
}

func TestObservedSigmaRaisesConfigured(t *testing.T) {
	w := subVault(1, 100, "0.1", "0.1").Weight
	est := types.Estimate{Rate: wadFrac("0.5"), Sigma: wadFrac("0.6")}
	s, err := Score(1, w, est)
	require.NoError(t, err)
	assert.Equal(t, wadFrac("0.6").String(), s.Sigma.String())
	assert.Equal(t, wadFrac("0.5").String(), s.Excess.String())
	// rate below the lower bound is floored to it
	assert.Equal(t, wadFrac("1.5").String(), s.EffectiveRate.String())

	// lower observed sigma does not reduce the configured one
	est.Sigma = wadFrac("0.01")
	est.Rate = wadFrac("2")
	s, err = Score(1, w, est)
	require.NoError(t, err)
	assert.Equal(t, wadFrac("0.1").String(), s.Sigma.String())
	assert.Equal(t, wadFrac("2").String(), s.EffectiveRate.String())
}

func TestNormalizeDust(t *testing.T) {
	fractions, err := Normalize([]sdkmath.Int{sdkmath.NewInt(1), sdkmath.NewInt(1), sdkmath.NewInt(1)})
	require.NoError(t, err)
	// ties go to the earlier sub-vault
	assert.Equal(t, "333333333333333334", fractions[0].String())
	assert.Equal(t, "333333333333333333", fractions[1].String())
	assert.Equal(t, "333333333333333333", fractions[2].String())

	_, err = Normalize([]sdkmath.Int{sdkmath.ZeroInt()})
	require.ErrorIs(t, err, types.ErrZeroTotalWeight)

	_, err = Normalize([]sdkmath.Int{fixedpoint.MaxUint256, sdkmath.NewInt(1)})
	require.ErrorIs(t, err, types.ErrOverflow)
}

func TestDecide(t *testing.T) {
	threshold := wadFrac("0.05")
	targets := types.Fractions{1: wadFrac("0.6"), 2: wadFrac("0.4")}

	d, drift := Decide(targets, nil, threshold)
	assert.Equal(t, types.DecisionRebalanceRequired, d)
	assert.Equal(t, wadFrac("0.6").String(), drift.String())

	d, _ = Decide(targets, types.Fractions{1: wadFrac("0.55"), 2: wadFrac("0.45")}, threshold)
	assert.Equal(t, types.DecisionNoActionNeeded, d, "drift equal to the threshold does not fire")

	d, drift = Decide(targets, types.Fractions{1: wadFrac("0.5"), 2: wadFrac("0.5")}, threshold)
	assert.Equal(t, types.DecisionRebalanceRequired, d)
	assert.Equal(t, wadFrac("0.1").String(), drift.String())
}

func observe(t *testing.T, tr *tracker.Tracker, id types.SubVaultID, rates ...string) {
	t.Helper()
	for i, r := range rates {
		_, err := tr.Observe(id, wadFrac(r), t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
}

func TestEngineCycle(t *testing.T) {
	tr := tracker.New()
	require.NoError(t, tr.Register(1, 0))
	require.NoError(t, tr.Register(2, 0))

	engine, err := NewEngine(tr, Config{DriftThreshold: wadFrac("0.01"), Clock: func() time.Time { return t0 }})
	require.NoError(t, err)
	inst := instance(subVault(1, 100, "0.3", "0.3"), subVault(2, 100, "0.3", "0.3"))

	// only one sample for sub-vault 2
	observe(t, tr, 1, "1", "1.2")
	observe(t, tr, 2, "1")
	_, err = engine.RunCycle(inst)
	require.ErrorIs(t, err, types.ErrInsufficientHistory)
	_, ok := engine.State(inst.ID)
	assert.False(t, ok, "failed cycle commits nothing")

	_, err = tr.Observe(2, wadFrac("1"), t0.Add(time.Hour))
	require.NoError(t, err)

	result, err := engine.RunCycle(inst)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRebalanceRequired, result.Decision, "first cycle always rebalances")
	assert.Nil(t, result.Previous)
	state, ok := engine.State(inst.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(1), state.Cycle)
	assert.Equal(t, t0, state.CommittedAt)

	result, err = engine.RunCycle(inst)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNoActionNeeded, result.Decision)
	state, _ = engine.State(inst.ID)
	assert.Equal(t, uint64(1), state.Cycle)

	// a single sample left after eviction: the previous state stays in effect
	require.NoError(t, tr.Register(2, time.Minute))
	_, err = tr.Observe(2, wadFrac("5"), t0.Add(5*time.Hour))
	require.NoError(t, err)
	_, err = engine.RunCycle(inst)
	require.ErrorIs(t, err, types.ErrInsufficientHistory)
	after, _ := engine.State(inst.ID)
	assert.Equal(t, state, after)
}

func TestEngineRebalancesOnDrift(t *testing.T) {
	tr := tracker.New()
	require.NoError(t, tr.Register(1, 0))
	require.NoError(t, tr.Register(2, 0))
	observe(t, tr, 1, "1", "1")
	observe(t, tr, 2, "1", "1")

	engine, err := NewEngine(tr, Config{DriftThreshold: wadFrac("0.01")})
	require.NoError(t, err)
	require.NoError(t, engine.Restore(types.AllocationState{
		StrategyID: "test",
		Cycle:      7,
		Fractions:  types.Fractions{1: wadFrac("0.9"), 2: wadFrac("0.1")},
	}))

	inst := instance(subVault(1, 100, "0.3", "0.3"), subVault(2, 100, "0.3", "0.3"))
	result, err := engine.RunCycle(inst)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRebalanceRequired, result.Decision)
	assert.Equal(t, uint64(8), result.Cycle)
	assert.Equal(t, wadFrac("0.9").String(), result.Previous[1].String())
	assert.Equal(t, wadFrac("0.4").String(), result.MaxDrift.String())

	state, _ := engine.State("test")
	assert.Equal(t, wadFrac("0.5").String(), state.Fractions[1].String())
}

func TestEngineCommitsOnlyAfterPrepare(t *testing.T) {
	tr := tracker.New()
	require.NoError(t, tr.Register(1, 0))
	require.NoError(t, tr.Register(2, 0))
	observe(t, tr, 1, "1", "1")
	observe(t, tr, 2, "1", "1")
	engine, err := NewEngine(tr, Config{DriftThreshold: wadFrac("0.01"), Clock: func() time.Time { return t0 }})
	require.NoError(t, err)
	inst := instance(subVault(1, 100, "0.3", "0.3"), subVault(2, 100, "0.3", "0.3"))

	_, err = engine.RunCycleWith(inst, CycleOptions{
		Prepare: func(*types.AllocationResult, types.AllocationState) error { return errors.New("holdings unavailable") },
	})
	require.ErrorContains(t, err, "holdings unavailable")
	_, ok := engine.State(inst.ID)
	assert.False(t, ok, "failed prepare commits nothing")

	var prepared types.AllocationState
	result, err := engine.RunCycleWith(inst, CycleOptions{
		Prepare: func(_ *types.AllocationResult, next types.AllocationState) error {
			prepared = next
			_, committed := engine.State(inst.ID)
			assert.False(t, committed, "prepare runs before the commit")
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRebalanceRequired, result.Decision)
	assert.Equal(t, uint64(1), prepared.Cycle)
	assert.Equal(t, t0, prepared.CommittedAt)
	state, ok := engine.State(inst.ID)
	require.True(t, ok)
	assert.Equal(t, prepared, state)
}

func TestEngineRebalancesOnHeldDrift(t *testing.T) {
	tr := tracker.New()
	require.NoError(t, tr.Register(1, 0))
	require.NoError(t, tr.Register(2, 0))
	observe(t, tr, 1, "1", "1")
	observe(t, tr, 2, "1", "1")
	engine, err := NewEngine(tr, Config{DriftThreshold: wadFrac("0.01")})
	require.NoError(t, err)
	require.NoError(t, engine.Restore(types.AllocationState{
		StrategyID: "test",
		Cycle:      3,
		Fractions:  types.Fractions{1: wadFrac("0.5"), 2: wadFrac("0.5")},
	}))
	inst := instance(subVault(1, 100, "0.3", "0.3"), subVault(2, 100, "0.3", "0.3"))

	// holdings match the committed allocation within the threshold
	result, err := engine.RunCycleWith(inst, CycleOptions{Held: types.Fractions{1: wadFrac("0.495"), 2: wadFrac("0.5")}})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNoActionNeeded, result.Decision)

	// everything idle, nothing deployed
	result, err = engine.RunCycleWith(inst, CycleOptions{Held: types.Fractions{}})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRebalanceRequired, result.Decision)
	assert.Equal(t, wadFrac("0.5").String(), result.MaxDrift.String())
	assert.Equal(t, uint64(4), result.Cycle)
}

func TestEngineRejectsBadConfig(t *testing.T) {
	_, err := NewEngine(tracker.New(), Config{})
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = NewEngine(tracker.New(), Config{DriftThreshold: wadFrac("2")})
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = NewEngine(nil, Config{DriftThreshold: wadFrac("0.1")})
	require.Error(t, err)

	engine, err := NewEngine(tracker.New(), Config{DriftThreshold: wadFrac("0.1")})
	require.NoError(t, err)
	err = engine.Restore(types.AllocationState{StrategyID: "x", Fractions: types.Fractions{1: wadFrac("0.4")}})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

type blockingStats struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStats) Snapshot(ids []types.SubVaultID) (map[types.SubVaultID]types.Estimate, error) {
	close(b.entered)
	<-b.release
	return flatEstimates(ids...), nil
}

func TestEngineCyclesDoNotOverlap(t *testing.T) {
	stats := &blockingStats{entered: make(chan struct{}), release: make(chan struct{})}
	engine, err := NewEngine(stats, Config{DriftThreshold: wadFrac("0.01")})
	require.NoError(t, err)
	inst := instance(subVault(1, 100, "0.3", "0.3"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := engine.RunCycle(inst)
		assert.NoError(t, err)
	}()

	<-stats.entered
	_, err = engine.RunCycle(inst)
	require.ErrorIs(t, err, types.ErrCycleInProgress)
	assert.True(t, types.IsTransient(err))

	close(stats.release)
	wg.Wait()
	state, ok := engine.State(inst.ID)
	require.True(t, ok)
	assert.True(t, fixedpoint.WAD.Equal(state.Fractions[1]))
}
