/*

This file contains the decimals of the underlying tokens a strategy can be built on.

Vault caps are given in whole tokens and padded with these decimals. A symbol missing here
cannot be used in a strategy: a wrong padding would silently scale the cap by orders of
magnitude.

*/

package config

import (
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

var (
	TokenDecimals = map[string]int32{
		"USDC": 6,
		"USDT": 6,
		"WETH": 18,
		"DAI":  18,
	}
)

// LookupDecimals returns the decimals of a token symbol, case-insensitively.
func LookupDecimals(symbol string) (int32, error) {
	d, ok := TokenDecimals[strings.ToUpper(symbol)]
	if !ok {
		return 0, errorsmod.Wrapf(types.ErrInvalidConfig, "unknown token %q", symbol)
	}
	return d, nil
}
