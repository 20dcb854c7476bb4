package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

var ErrInsufficientFunds = errors.New("insufficient funds for operation")

// PaperVault is an in-memory HoldingVault used in paper mode and tests. Transfers settle
// immediately.
type PaperVault struct {
	mu       sync.Mutex
	idle     sdkmath.Int
	balances map[types.SubVaultID]sdkmath.Int
	nonce    uint64
	logger   zerolog.Logger
}

// NewPaperVault returns a vault holding idle capital and no sub-vault positions.
func NewPaperVault(idle sdkmath.Int) *PaperVault {
	return &PaperVault{
		idle:     idle,
		balances: make(map[types.SubVaultID]sdkmath.Int),
		logger:   logger.GetForComponent("paper_vault"),
	}
}

// SetBalance overrides a sub-vault position.
func (p *PaperVault) SetBalance(id types.SubVaultID, amount sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[id] = amount
}

func (p *PaperVault) IdleBalance(ctx context.Context) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle, nil
}

func (p *PaperVault) Balances(ctx context.Context) (map[types.SubVaultID]sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[types.SubVaultID]sdkmath.Int, len(p.balances))
	for id, b := range p.balances {
		out[id] = b
	}
	return out, nil
}

func (p *PaperVault) Withdraw(ctx context.Context, id types.SubVaultID, amount sdkmath.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	balance, ok := p.balances[id]
	if !ok {
		balance = sdkmath.ZeroInt()
	}
	if amount.IsNegative() || amount.GT(balance) {
		return "", fmt.Errorf("%w: withdraw %s from sub-vault %d holding %s", ErrInsufficientFunds, amount, id, balance)
	}
	p.balances[id] = balance.Sub(amount)
	p.idle = p.idle.Add(amount)
	return p.ref(types.InstructionWithdraw, id, amount), nil
}

func (p *PaperVault) Deposit(ctx context.Context, id types.SubVaultID, amount sdkmath.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.IsNegative() || amount.GT(p.idle) {
		return "", fmt.Errorf("%w: deposit %s with %s idle", ErrInsufficientFunds, amount, p.idle)
	}
	balance, ok := p.balances[id]
	if !ok {
		balance = sdkmath.ZeroInt()
	}
	p.balances[id] = balance.Add(amount)
	p.idle = p.idle.Sub(amount)
	return p.ref(types.InstructionDeposit, id, amount), nil
}

// ref requires p.mu.
func (p *PaperVault) ref(kind types.InstructionType, id types.SubVaultID, amount sdkmath.Int) string {
	p.nonce++
	ref := fmt.Sprintf("paper-%d", p.nonce)
	p.logger.Debug().
		Str("ref", ref).
		Str("type", string(kind)).
		Uint64("subVaultID", uint64(id)).
		Str("amount", amount.String()).
		Msg("Paper transfer settled")
	return ref
}

func (p *PaperVault) Close() error {
	return nil
}
