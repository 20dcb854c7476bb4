package vault

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// HoldingVault defines the interface for the capital-holding vault of a strategy instance.
// Implementations own transfer execution, settlement confirmation and retries; the optimiser
// only issues instructions.
type HoldingVault interface {
	// IdleBalance returns the capital not deployed to any sub-vault, in token-native units.
	IdleBalance(ctx context.Context) (sdkmath.Int, error)

	// Balances returns the capital currently deployed to each sub-vault.
	Balances(ctx context.Context) (map[types.SubVaultID]sdkmath.Int, error)

	// Withdraw moves amount from a sub-vault back to the idle balance and returns a reference
	// to the transfer.
	Withdraw(ctx context.Context, id types.SubVaultID, amount sdkmath.Int) (string, error)

	// Deposit moves amount from the idle balance into a sub-vault.
	Deposit(ctx context.Context, id types.SubVaultID, amount sdkmath.Int) (string, error)

	// Close cleans up any resources used by the vault.
	Close() error
}

// Holdings reads the idle balance and every sub-vault balance.
func Holdings(ctx context.Context, v HoldingVault) (types.Holdings, error) {
	idle, err := v.IdleBalance(ctx)
	if err != nil {
		return types.Holdings{}, fmt.Errorf("failed to get idle balance: %w", err)
	}
	balances, err := v.Balances(ctx)
	if err != nil {
		return types.Holdings{}, fmt.Errorf("failed to get sub-vault balances: %w", err)
	}
	return types.Holdings{Idle: idle, Balances: balances}, nil
}
