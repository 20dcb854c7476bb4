/*

This file contains the fixed-point kernel used by every other package.

Values are sdkmath.Int holding unsigned 256-bit integers. Two scales are used:
  - Wad (1e18): rates, sigma, proximity, lower bounds, leverage, margin multipliers, fractions.
  - X96 (2^96): VAMM sqrt prices, converted to Wad at the margin-engine boundary.

Nothing here saturates. Any result that does not fit 256 bits, any negative operand and
any zero denominator returns types.ErrOverflow.

*/

package fixedpoint

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/holiman/uint256"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

var (
	// WAD is 1e18.
	WAD = sdkmath.NewIntWithDecimal(1, 18)
	// Q96 is 2^96.
	Q96 = sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96))
	// MaxUint256 is 2^256 - 1.
	MaxUint256 = sdkmath.NewIntFromBigInt(new(uint256.Int).SetAllOne().ToBig())
)

func toU256(x sdkmath.Int) (*uint256.Int, error) {
	if x.IsNil() {
		return nil, errorsmod.Wrap(types.ErrOverflow, "nil operand")
	}
	if x.IsNegative() {
		return nil, errorsmod.Wrapf(types.ErrOverflow, "negative operand %s", x)
	}
	z, overflow := uint256.FromBig(x.BigInt())
	if overflow {
		return nil, errorsmod.Wrapf(types.ErrOverflow, "operand %s exceeds 256 bits", x)
	}
	return z, nil
}

func fromU256(z *uint256.Int) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(z.ToBig())
}

// MulDiv computes floor(a*b/d) with a 512-bit intermediate product.
func MulDiv(a, b, d sdkmath.Int) (sdkmath.Int, error) {
	x, y, den, err := operands(a, b, d)
	if err != nil {
		return sdkmath.Int{}, err
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, den)
	if overflow {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "mulDiv(%s, %s, %s)", a, b, d)
	}
	return fromU256(z), nil
}

// MulDivRoundingUp computes ceil(a*b/d).
func MulDivRoundingUp(a, b, d sdkmath.Int) (sdkmath.Int, error) {
	x, y, den, err := operands(a, b, d)
	if err != nil {
		return sdkmath.Int{}, err
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, den)
	if overflow {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "mulDivRoundingUp(%s, %s, %s)", a, b, d)
	}
	if !new(uint256.Int).MulMod(x, y, den).IsZero() {
		if _, overflow = z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "mulDivRoundingUp(%s, %s, %s)", a, b, d)
		}
	}
	return fromU256(z), nil
}

func operands(a, b, d sdkmath.Int) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	x, err := toU256(a)
	if err != nil {
		return nil, nil, nil, err
	}
	y, err := toU256(b)
	if err != nil {
		return nil, nil, nil, err
	}
	den, err := toU256(d)
	if err != nil {
		return nil, nil, nil, err
	}
	// uint256 returns 0 for a zero divisor
	if den.IsZero() {
		return nil, nil, nil, errorsmod.Wrap(types.ErrOverflow, "division by zero")
	}
	return x, y, den, nil
}

// Add returns a+b, failing when the sum exceeds 256 bits.
func Add(a, b sdkmath.Int) (sdkmath.Int, error) {
	x, err := toU256(a)
	if err != nil {
		return sdkmath.Int{}, err
	}
	y, err := toU256(b)
	if err != nil {
		return sdkmath.Int{}, err
	}
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "%s + %s", a, b)
	}
	return fromU256(z), nil
}

// Sub returns a-b, failing on underflow.
func Sub(a, b sdkmath.Int) (sdkmath.Int, error) {
	x, err := toU256(a)
	if err != nil {
		return sdkmath.Int{}, err
	}
	y, err := toU256(b)
	if err != nil {
		return sdkmath.Int{}, err
	}
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "%s - %s underflows", a, b)
	}
	return fromU256(z), nil
}

// PositiveDiff returns max(0, a-b).
func PositiveDiff(a, b sdkmath.Int) sdkmath.Int {
	if a.GT(b) {
		return a.Sub(b)
	}
	return sdkmath.ZeroInt()
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b sdkmath.Int) sdkmath.Int {
	if a.GTE(b) {
		return a.Sub(b)
	}
	return b.Sub(a)
}

// WadMul returns a*b/1e18.
func WadMul(a, b sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(a, b, WAD)
}

// WadDiv returns a*1e18/b.
func WadDiv(a, b sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(a, WAD, b)
}

// WadToX96 rescales a Wad value to X96.
func WadToX96(x sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(x, Q96, WAD)
}

// X96ToWad rescales an X96 value to Wad.
func X96ToWad(x sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(x, WAD, Q96)
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x sdkmath.Int) (sdkmath.Int, error) {
	z, err := toU256(x)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fromU256(new(uint256.Int).Sqrt(z)), nil
}

// SqrtPriceX96ToRate converts a VAMM sqrt price to its fixed rate in percent-Wad.
// The VAMM price is 1.0001^tick and the fixed rate is its inverse, so
// rate = 1e18 * 2^96 / (sqrtPriceX96^2 / 2^96).
func SqrtPriceX96ToRate(sqrtPriceX96 sdkmath.Int) (sdkmath.Int, error) {
	priceX96, err := MulDiv(sqrtPriceX96, sqrtPriceX96, Q96)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if priceX96.IsZero() {
		return sdkmath.Int{}, errorsmod.Wrapf(types.ErrOverflow, "sqrt price %s too small", sqrtPriceX96)
	}
	return MulDiv(WAD, Q96, priceX96)
}
