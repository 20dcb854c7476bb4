/*
This file contains conversions between Wad integers and the decimal and float forms used for
configuration parsing, display and metrics.
*/

package fixedpoint

import (
	"fmt"
	"math"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// Precision of a Wad value. Matches sdkmath.LegacyPrecision so Wad <-> LegacyDec is lossless.
const Precision = 18

// ToDec views a Wad integer as a decimal, e.g. 3e17 -> 0.3.
func ToDec(x sdkmath.Int) sdkmath.LegacyDec {
	if x.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return sdkmath.LegacyNewDecFromBigIntWithPrec(x.BigInt(), Precision)
}

// FromDec returns the Wad integer of a decimal, e.g. 0.3 -> 3e17.
func FromDec(d sdkmath.LegacyDec) (sdkmath.Int, error) {
	if d.IsNil() {
		return sdkmath.Int{}, errorsmod.Wrap(types.ErrOverflow, "nil decimal")
	}
	if d.IsNegative() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "negative decimal %s", d)
	}
	return sdkmath.NewIntFromBigInt(d.BigInt()), nil
}

// ParseWad parses a human decimal such as "0.3" or "50" into Wad.
func ParseWad(s string) (sdkmath.Int, error) {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidConfig, "parse %q: %v", s, err)
	}
	if d.IsNegative() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidConfig, "parse %q: negative value", s)
	}
	return FromDec(d)
}

// ParseRaw parses an integer already expressed in its fixed-point scale, e.g. "1059469974466510000".
func ParseRaw(s string) (sdkmath.Int, error) {
	x, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidConfig, "parse %q: not an integer", s)
	}
	if x.IsNegative() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrInvalidConfig, "parse %q: negative value", s)
	}
	return x, nil
}

// FormatWad renders a Wad value as a decimal string without trailing zeros.
func FormatWad(x sdkmath.Int) string {
	s := ToDec(x).String()
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// ToFloat64 converts a Wad value to float64. Only for metrics and display, never for policy.
func ToFloat64(x sdkmath.Int) (float64, error) {
	return AmountToFloat64(x, Precision)
}

// AmountToFloat64 converts a token-native amount to whole tokens as float64.
func AmountToFloat64(amount sdkmath.Int, decimals int) (float64, error) {
	if decimals < 0 || decimals > Precision {
		return 0, fmt.Errorf("invalid precision %d (must be between 0 and %d)", decimals, Precision)
	}
	if amount.IsNil() {
		return 0, fmt.Errorf("amount is nil")
	}

	result, err := sdkmath.LegacyNewDecFromBigIntWithPrec(amount.BigInt(), int64(decimals)).Float64()
	if err != nil {
		return 0, fmt.Errorf("conversion failed: %w", err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("value is not finite: %f", result)
	}
	return result, nil
}

// RateAtTick returns the fixed rate, in percent, at a VAMM tick: 1.0001^(-tick).
func RateAtTick(tick int32) sdkmath.LegacyDec {
	base := sdkmath.LegacyNewDecWithPrec(10001, 4)
	if tick <= 0 {
		return base.Power(uint64(-int64(tick)))
	}
	return sdkmath.LegacyOneDec().Quo(base.Power(uint64(tick)))
}
