// Package fixedpoint provides overflow-checked integer arithmetic with
// explicit rounding for monetary and token quantities. All amounts are
// integers in the smallest unit; fractional rates use LegacyDec.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"cosmossdk.io/math"
)

var (
	// ErrOverflow reports a result outside the supported 256-bit range,
	// or an amount subtraction that would go negative.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrDivisionByZero reports a zero denominator.
	ErrDivisionByZero = errors.New("division by zero")
)

// maxValue is the exclusive upper bound for amounts (2^256).
var maxValue = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)

func checked(v *big.Int) (math.Int, error) {
	if v.CmpAbs(maxValue) >= 0 {
		return math.Int{}, ErrOverflow
	}
	return math.NewIntFromBigInt(v), nil
}

// SafeAdd returns a+b or ErrOverflow.
func SafeAdd(a, b math.Int) (math.Int, error) {
	return checked(new(big.Int).Add(a.BigInt(), b.BigInt()))
}

// SafeSub returns a-b, failing with ErrOverflow when the result would be
// negative. Amounts are unsigned quantities so underflow is an error.
func SafeSub(a, b math.Int) (math.Int, error) {
	if a.LT(b) {
		return math.Int{}, fmt.Errorf("%w: %s - %s is negative", ErrOverflow, a, b)
	}
	return math.NewIntFromBigInt(new(big.Int).Sub(a.BigInt(), b.BigInt())), nil
}

// SafeMul returns a*b or ErrOverflow.
func SafeMul(a, b math.Int) (math.Int, error) {
	return checked(new(big.Int).Mul(a.BigInt(), b.BigInt()))
}

// MulDivFloor returns floor(a*b/den).
func MulDivFloor(a, b, den math.Int) (math.Int, error) {
	if den.IsZero() {
		return math.Int{}, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a.BigInt(), b.BigInt())
	return checked(prod.Quo(prod, den.BigInt()))
}

// MulDivCeil returns ceil(a*b/den).
func MulDivCeil(a, b, den math.Int) (math.Int, error) {
	if den.IsZero() {
		return math.Int{}, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a.BigInt(), b.BigInt())
	quo, rem := new(big.Int).QuoRem(prod, den.BigInt(), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return checked(quo)
}

// DivCeil returns ceil(num/den).
func DivCeil(num, den math.Int) (math.Int, error) {
	if den.IsZero() {
		return math.Int{}, ErrDivisionByZero
	}
	quo, rem := new(big.Int).QuoRem(num.BigInt(), den.BigInt(), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return checked(quo)
}

// FeeCeil returns ceil(amount*rate). Fees charged to a trader always
// round up so the pool never loses value to sub-unit dust.
func FeeCeil(amount math.Int, rate math.LegacyDec) math.Int {
	return rate.MulInt(amount).Ceil().TruncateInt()
}
