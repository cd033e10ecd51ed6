// Package quote prices trades against an immutable pool snapshot. The
// functions here never mutate state and never touch the balance ledger.
package quote

import (
	"fmt"

	"cosmossdk.io/math"

	"manaswap/internal/fixedpoint"
	"manaswap/internal/model"
)

// DefaultFeeRate is the swap fee charged on the side entering the pool.
var DefaultFeeRate = math.LegacyNewDecWithPrec(3, 3) // 0.3%

// Quote is the full pricing result for one prospective trade. The New*
// reserves are the committed post-trade state with the fee accrued to
// the pool, so NewManaReserve*NewTokenReserve never drops below the
// pre-trade product.
type Quote struct {
	Side            model.Side
	InputAmount     math.Int
	OutputAmount    math.Int
	FeeAmount       math.Int
	PriceImpact     math.LegacyDec
	NewManaReserve  math.Int
	NewTokenReserve math.Int
}

// Buy prices a mana-in, tokens-out trade. The fee is taken from the mana
// input before the swap; the swap itself uses the after-fee input while
// the full input lands in the reserve, so the fee accrues to LPs.
func Buy(pool model.Pool, manaIn math.Int, feeRate math.LegacyDec) (Quote, error) {
	if err := validate(pool, manaIn); err != nil {
		return Quote{}, err
	}

	fee := fixedpoint.FeeCeil(manaIn, feeRate)
	inAfterFee, err := fixedpoint.SafeSub(manaIn, fee)
	if err != nil || !inAfterFee.IsPositive() {
		return Quote{}, fmt.Errorf("%w: input %s consumed entirely by fee", model.ErrInvalidAmount, manaIn)
	}

	k, err := pool.Product()
	if err != nil {
		return Quote{}, err
	}
	swapMana, err := fixedpoint.SafeAdd(pool.ManaReserve, inAfterFee)
	if err != nil {
		return Quote{}, err
	}
	// ceil keeps the invariant product from shrinking under rounding
	newToken, err := fixedpoint.DivCeil(k, swapMana)
	if err != nil {
		return Quote{}, err
	}

	tokensOut := pool.TokenReserve.Sub(newToken)
	if !tokensOut.IsPositive() || tokensOut.GTE(pool.TokenReserve) {
		return Quote{}, fmt.Errorf("%w: buy of %s mana moves no tokens", model.ErrInsufficientLiquidity, manaIn)
	}

	newMana, err := fixedpoint.SafeAdd(pool.ManaReserve, manaIn)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Side:            model.SideBuy,
		InputAmount:     manaIn,
		OutputAmount:    tokensOut,
		FeeAmount:       fee,
		PriceImpact:     priceImpact(pool, newMana, newToken),
		NewManaReserve:  newMana,
		NewTokenReserve: newToken,
	}, nil
}

// Sell prices a tokens-in, mana-out trade. The full token input enters
// the reserve; the fee comes out of the gross mana proceeds and stays in
// the pool, reducing the payout rather than the input.
func Sell(pool model.Pool, tokensIn math.Int, feeRate math.LegacyDec) (Quote, error) {
	if err := validate(pool, tokensIn); err != nil {
		return Quote{}, err
	}

	k, err := pool.Product()
	if err != nil {
		return Quote{}, err
	}
	newToken, err := fixedpoint.SafeAdd(pool.TokenReserve, tokensIn)
	if err != nil {
		return Quote{}, err
	}
	newManaRaw, err := fixedpoint.DivCeil(k, newToken)
	if err != nil {
		return Quote{}, err
	}

	grossOut := pool.ManaReserve.Sub(newManaRaw)
	if !grossOut.IsPositive() {
		return Quote{}, fmt.Errorf("%w: sell of %s tokens moves no mana", model.ErrInsufficientLiquidity, tokensIn)
	}

	fee := fixedpoint.FeeCeil(grossOut, feeRate)
	manaOut, err := fixedpoint.SafeSub(grossOut, fee)
	if err != nil || !manaOut.IsPositive() {
		return Quote{}, fmt.Errorf("%w: proceeds of %s tokens consumed entirely by fee", model.ErrInsufficientLiquidity, tokensIn)
	}

	newMana := newManaRaw.Add(fee)

	return Quote{
		Side:            model.SideSell,
		InputAmount:     tokensIn,
		OutputAmount:    manaOut,
		FeeAmount:       fee,
		PriceImpact:     priceImpact(pool, newMana, newToken),
		NewManaReserve:  newMana,
		NewTokenReserve: newToken,
	}, nil
}

func validate(pool model.Pool, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	return pool.CheckReserves()
}

// priceImpact is 1 - (newPrice/oldPrice) with price in mana per token.
// Negative for buys (price rose), positive for sells (price fell).
func priceImpact(pool model.Pool, newMana, newToken math.Int) math.LegacyDec {
	oldPrice := pool.SpotPrice()
	if oldPrice.IsZero() || newToken.IsZero() {
		return math.LegacyZeroDec()
	}
	newPrice := math.LegacyNewDecFromInt(newMana).QuoInt(newToken)
	return math.LegacyOneDec().Sub(newPrice.Quo(oldPrice))
}
