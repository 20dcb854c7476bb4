package state

import (
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DBConfig{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "lpo.db")})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema())
	return s
}

func wad(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, 16) // n percent
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(DBConfig{Driver: "mysql"})
	assert.Error(t, err)
	_, err = Open(DBConfig{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureSchema())
	n, err := s.CurrentCycleNumber()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCycleCounter(t *testing.T) {
	s := openTestStore(t)
	for want := uint64(1); want <= 3; want++ {
		got, err := s.IncrementCycleNumber()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, s.ResetCycleNumber(10))
	got, err := s.IncrementCycleNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), got)
}

func TestAllocationStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	committed := time.Unix(1_680_000_000, 0).UTC()

	first := types.AllocationState{
		StrategyID:  "mainnet-aabbccddeeff",
		Cycle:       1,
		Fractions:   types.Fractions{1: wad(88), 2: wad(12)},
		CommittedAt: committed,
	}
	require.NoError(t, s.SaveAllocationState(first))

	second := first
	second.Cycle = 2
	second.Fractions = types.Fractions{1: wad(50), 2: wad(50)}
	second.CommittedAt = committed.Add(time.Hour)
	require.NoError(t, s.SaveAllocationState(second))

	states, err := s.LoadAllocationStates()
	require.NoError(t, err)
	require.Len(t, states, 1)
	got := states[first.StrategyID]
	assert.Equal(t, uint64(2), got.Cycle)
	assert.Equal(t, second.CommittedAt, got.CommittedAt)
	assert.True(t, got.Fractions.Get(1).Equal(wad(50)))
	assert.True(t, got.Fractions.Get(2).Equal(wad(50)))
}

func TestCycleSnapshots(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1_680_000_000, 0).UTC()

	plan := &types.InstructionPlan{
		StrategyID: "a",
		Instructions: []types.Instruction{{
			Type:          types.InstructionDeposit,
			SubVaultID:    1,
			Amount:        sdkmath.NewInt(500),
			CurrentAmount: sdkmath.ZeroInt(),
			TargetAmount:  sdkmath.NewInt(500),
		}},
		TotalCapital: sdkmath.NewInt(1000),
		IdleBefore:   sdkmath.NewInt(1000),
		IdleAfter:    sdkmath.NewInt(500),
	}
	snapshots := []types.CycleSnapshot{
		{StrategyID: "a", CycleNumber: 1, CycleID: "c1", Timestamp: base, Mode: "paper",
			Decision: types.DecisionRebalanceRequired, Targets: types.Fractions{1: wad(100)}, Plan: plan},
		{StrategyID: "a", CycleNumber: 2, CycleID: "c2", Timestamp: base.Add(time.Hour), Mode: "paper",
			Error: "insufficient history"},
		{StrategyID: "b", CycleNumber: 3, CycleID: "c3", Timestamp: base.Add(2 * time.Hour), Mode: "plan",
			Decision: types.DecisionNoActionNeeded, Targets: types.Fractions{4: wad(100)}, Previous: types.Fractions{4: wad(100)}},
	}
	var ids []int64
	for _, snap := range snapshots {
		id, err := s.SaveCycleSnapshot(snap)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.RecentCycles("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c3", all[0].CycleID, "newest first")

	onlyA, err := s.RecentCycles("a", 1)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.True(t, onlyA[0].Failed())
	assert.Nil(t, onlyA[0].Plan)

	got, err := s.CycleByID(ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRebalanceRequired, got.Decision)
	assert.Equal(t, base, got.Timestamp)
	require.NotNil(t, got.Plan)
	require.Len(t, got.Plan.Instructions, 1)
	assert.Equal(t, types.InstructionDeposit, got.Plan.Instructions[0].Type)
	assert.True(t, got.Plan.IdleAfter.Equal(sdkmath.NewInt(500)))
	assert.Nil(t, got.Previous)

	_, err = s.CycleByID(999)
	assert.ErrorIs(t, err, types.ErrNotFound)

	summaries, err := s.Summaries()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, StrategySummary{
		StrategyID: "a", TotalCycles: 2, Rebalances: 1, Failures: 1, LastCycleAt: ptr(base.Add(time.Hour)),
	}, summaries[0])
	assert.Equal(t, 0, summaries[1].Rebalances)
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	_, err := s.IncrementCycleNumber()
	require.NoError(t, err)
	_, err = s.SaveCycleSnapshot(types.CycleSnapshot{StrategyID: "a", CycleID: "c", Timestamp: time.Now(), Mode: "plan"})
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	n, err := s.CurrentCycleNumber()
	require.NoError(t, err)
	assert.Zero(t, n)
	cycles, err := s.RecentCycles("", 10)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func ptr[T any](v T) *T { return &v }
