/*

This file contains the error taxonomy shared by every package of the optimiser.

Errors are registered with cosmossdk.io/errors so each carries a stable code in the
"lpo" codespace. Wrap them with errorsmod.Wrap/Wrapf and test with errors.Is.

*/

package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error codespace of the optimiser.
const Codespace = "lpo"

var (
	// ErrInvalidConfig rejects a registration or reconfiguration atomically. Non-recoverable.
	ErrInvalidConfig = errorsmod.Register(Codespace, 2, "invalid config")
	// ErrInsufficientHistory is transient: retry the cycle once more observations accrue.
	ErrInsufficientHistory = errorsmod.Register(Codespace, 3, "insufficient history")
	// ErrZeroTotalWeight is fatal to the strategy instance until governance corrects the weights.
	ErrZeroTotalWeight = errorsmod.Register(Codespace, 4, "zero total weight")
	// ErrOverflow is always fatal to the call; arithmetic never saturates.
	ErrOverflow = errorsmod.Register(Codespace, 5, "arithmetic overflow")
	// ErrUnauthorized is returned when the administrative role gate refuses the caller.
	ErrUnauthorized = errorsmod.Register(Codespace, 6, "unauthorized")
	// ErrUnknownSubVault is returned for sub-vault IDs that were never registered.
	ErrUnknownSubVault = errorsmod.Register(Codespace, 7, "unknown sub-vault")
	// ErrCycleInProgress is returned when a cycle for the same instance is already running.
	ErrCycleInProgress = errorsmod.Register(Codespace, 8, "rebalance cycle already in progress")
	// ErrGovernanceDelay is returned when staged parameters are committed before the delay elapsed.
	ErrGovernanceDelay = errorsmod.Register(Codespace, 9, "governance delay has not elapsed")
	// ErrNotFound is returned by registries and stores for missing entries.
	ErrNotFound = errorsmod.Register(Codespace, 10, "not found")
)

// IsTransient reports whether a failed cycle may succeed when retried later
// without any configuration change.
func IsTransient(err error) bool {
	return errors.Is(err, ErrInsufficientHistory) || errors.Is(err, ErrCycleInProgress)
}
