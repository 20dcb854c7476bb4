package executor

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
	"github.com/voltz-protocol/lp-optimiser/internal/vault"
)

func frac(s string) sdkmath.Int {
	w, err := fixedpoint.ParseWad(s)
	if err != nil {
		panic(err)
	}
	return w
}

func instance(ids ...types.SubVaultID) *types.StrategyInstance {
	inst := &types.StrategyInstance{ID: "test"}
	for _, id := range ids {
		inst.SubVaults = append(inst.SubVaults, types.SubVault{
			Config: types.SubVaultConfig{ID: id},
			Weight: types.StrategyWeightConfig{Weight: 1},
		})
	}
	return inst
}

func holdings(idle int64, balances map[types.SubVaultID]int64) types.Holdings {
	h := types.Holdings{Idle: sdkmath.NewInt(idle), Balances: map[types.SubVaultID]sdkmath.Int{}}
	for id, b := range balances {
		h.Balances[id] = sdkmath.NewInt(b)
	}
	return h
}

func newExecutor(t *testing.T, min int64) *Executor {
	t.Helper()
	x, err := New(Config{MinInstructionAmount: sdkmath.NewInt(min)})
	require.NoError(t, err)
	return x
}

func TestPlanWithdrawalsBeforeDeposits(t *testing.T) {
	x := newExecutor(t, 0)
	inst := instance(1, 2, 3)
	targets := types.Fractions{1: frac("0.2"), 2: frac("0.5"), 3: frac("0.3")}

	// total 1000: targets 200 / 500 / 300
	plan, err := x.Plan(inst, targets, holdings(100, map[types.SubVaultID]int64{1: 600, 2: 100, 3: 200}))
	require.NoError(t, err)

	require.Len(t, plan.Instructions, 3)
	assert.Equal(t, types.Instruction{
		Type: types.InstructionWithdraw, SubVaultID: 1,
		Amount: sdkmath.NewInt(400), CurrentAmount: sdkmath.NewInt(600), TargetAmount: sdkmath.NewInt(200),
	}, plan.Instructions[0])
	assert.Equal(t, types.InstructionDeposit, plan.Instructions[1].Type)
	assert.Equal(t, types.SubVaultID(2), plan.Instructions[1].SubVaultID)
	assert.Equal(t, int64(400), plan.Instructions[1].Amount.Int64())
	assert.Equal(t, types.SubVaultID(3), plan.Instructions[2].SubVaultID)
	assert.Equal(t, int64(100), plan.Instructions[2].Amount.Int64())

	assert.Equal(t, int64(1000), plan.TotalCapital.Int64())
	assert.True(t, plan.IdleAfter.IsZero())
}

func TestPlanNeverOverspendsIdle(t *testing.T) {
	x := newExecutor(t, 0)
	inst := instance(1, 2)
	targets := types.Fractions{1: frac("0.5"), 2: frac("0.5")}

	plan, err := x.Plan(inst, targets, holdings(333, map[types.SubVaultID]int64{1: 0, 2: 0}))
	require.NoError(t, err)

	budget := sdkmath.NewInt(333)
	for _, in := range plan.Instructions {
		require.Equal(t, types.InstructionDeposit, in.Type)
		require.True(t, in.Amount.LTE(budget))
		budget = budget.Sub(in.Amount)
	}
	// 333 * 0.5 floors to 166 each, one unit stays idle
	assert.Equal(t, int64(1), plan.IdleAfter.Int64())
}

func TestPlanSkipsDust(t *testing.T) {
	x := newExecutor(t, 10)
	inst := instance(1, 2)
	targets := types.Fractions{1: frac("0.5"), 2: frac("0.5")}

	plan, err := x.Plan(inst, targets, holdings(0, map[types.SubVaultID]int64{1: 505, 2: 495}))
	require.NoError(t, err)
	assert.Empty(t, plan.Instructions)
	assert.True(t, plan.IdleAfter.IsZero())
}

func TestPlanRejectsBadInputs(t *testing.T) {
	x := newExecutor(t, 0)
	inst := instance(1, 2)

	_, err := x.Plan(inst, types.Fractions{1: frac("0.5")}, holdings(10, nil))
	require.ErrorIs(t, err, ErrInvalidTargets)

	_, err = x.Plan(inst, types.Fractions{1: frac("0.5"), 9: frac("0.5")}, holdings(10, nil))
	require.ErrorIs(t, err, types.ErrUnknownSubVault)

	_, err = x.Plan(inst, types.Fractions{1: fixedpoint.WAD}, holdings(10, map[types.SubVaultID]int64{2: -1}))
	require.ErrorIs(t, err, ErrInvalidHoldings)

	_, err = New(Config{MinInstructionAmount: sdkmath.NewInt(-1)})
	require.Error(t, err)
}

func TestHeldFractions(t *testing.T) {
	inst := instance(1, 2, 3)

	held, err := HeldFractions(inst, holdings(250, map[types.SubVaultID]int64{1: 500, 2: 250}))
	require.NoError(t, err)
	assert.Equal(t, frac("0.5").String(), held[1].String())
	assert.Equal(t, frac("0.25").String(), held[2].String())
	assert.True(t, held[3].IsZero())

	// thirds round down
	held, err = HeldFractions(inst, holdings(0, map[types.SubVaultID]int64{1: 1, 2: 1, 3: 1}))
	require.NoError(t, err)
	assert.Equal(t, "333333333333333333", held[1].String())

	held, err = HeldFractions(inst, holdings(0, nil))
	require.NoError(t, err)
	assert.Nil(t, held)

	_, err = HeldFractions(inst, types.Holdings{Idle: sdkmath.NewInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidHoldings)
}

func TestDispatchAgainstPaperVault(t *testing.T) {
	x := newExecutor(t, 0)
	inst := instance(1, 2)
	pv := vault.NewPaperVault(sdkmath.NewInt(100))
	pv.SetBalance(1, sdkmath.NewInt(900))

	h, err := vault.Holdings(context.Background(), pv)
	require.NoError(t, err)
	plan, err := x.Plan(inst, types.Fractions{1: frac("0.25"), 2: frac("0.75")}, h)
	require.NoError(t, err)

	receipts, err := x.Dispatch(context.Background(), pv, plan)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	for _, r := range receipts {
		assert.True(t, r.Success)
		assert.NotEmpty(t, r.TxRef)
	}

	balances, _ := pv.Balances(context.Background())
	assert.Equal(t, int64(250), balances[1].Int64())
	assert.Equal(t, int64(750), balances[2].Int64())
	idle, _ := pv.IdleBalance(context.Background())
	assert.True(t, idle.IsZero())
}

type failingVault struct {
	*vault.PaperVault
}

func (f failingVault) Withdraw(ctx context.Context, id types.SubVaultID, amount sdkmath.Int) (string, error) {
	return "", errors.New("settlement timeout")
}

func TestDispatchStopsAtFirstFailure(t *testing.T) {
	x := newExecutor(t, 0)
	plan := &types.InstructionPlan{
		StrategyID: "test",
		Instructions: []types.Instruction{
			{Type: types.InstructionWithdraw, SubVaultID: 1, Amount: sdkmath.NewInt(5)},
			{Type: types.InstructionDeposit, SubVaultID: 2, Amount: sdkmath.NewInt(5)},
		},
	}
	receipts, err := x.Dispatch(context.Background(), failingVault{vault.NewPaperVault(sdkmath.ZeroInt())}, plan)
	require.ErrorContains(t, err, "settlement timeout")
	require.Len(t, receipts, 1)
	assert.False(t, receipts[0].Success)
	assert.Equal(t, "settlement timeout", receipts[0].Message)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	receipts, err = x.Dispatch(ctx, vault.NewPaperVault(sdkmath.NewInt(10)), plan)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, receipts)
}
