// Package liquidity computes LP share minting and burning for deposits
// and withdrawals, proportional to current pool value.
package liquidity

import (
	"fmt"

	"cosmossdk.io/math"

	"manaswap/internal/fixedpoint"
	"manaswap/internal/model"
)

// BootstrapShares is the LP supply minted to a pool's creator. The
// creator's contribution defines the initial ratio and price; a fixed
// constant avoids path-dependence on the initial deposit size.
var BootstrapShares = math.NewInt(1_000_000)

// DepositQuote describes what an existing-pool deposit requires and
// mints. Deposits must match the current reserve ratio exactly.
type DepositQuote struct {
	TokenInRequired math.Int
	LpSharesMinted  math.Int
}

// WithdrawQuote describes what burning lpShares pays out. Both legs are
// floored so the pool never pays more than the proportional share.
type WithdrawQuote struct {
	ManaOut  math.Int
	TokenOut math.Int
}

// QuoteDeposit computes the token leg and minted shares for a deposit of
// manaIn into an existing pool.
func QuoteDeposit(pool model.Pool, manaIn math.Int) (DepositQuote, error) {
	if manaIn.IsNil() || !manaIn.IsPositive() {
		return DepositQuote{}, fmt.Errorf("%w: deposit must be positive", model.ErrInvalidAmount)
	}
	if err := pool.CheckReserves(); err != nil {
		return DepositQuote{}, err
	}

	tokenIn, err := fixedpoint.MulDivFloor(manaIn, pool.TokenReserve, pool.ManaReserve)
	if err != nil {
		return DepositQuote{}, err
	}
	shares, err := fixedpoint.MulDivFloor(pool.TotalLpShares, manaIn, pool.ManaReserve)
	if err != nil {
		return DepositQuote{}, err
	}
	if !shares.IsPositive() || !tokenIn.IsPositive() {
		return DepositQuote{}, fmt.Errorf("%w: deposit of %s mana is too small", model.ErrInvalidAmount, manaIn)
	}

	return DepositQuote{TokenInRequired: tokenIn, LpSharesMinted: shares}, nil
}

// QuoteWithdraw computes the payout for burning lpShares. The caller is
// responsible for checking the owner actually holds the shares.
func QuoteWithdraw(pool model.Pool, lpShares math.Int) (WithdrawQuote, error) {
	if lpShares.IsNil() || !lpShares.IsPositive() {
		return WithdrawQuote{}, fmt.Errorf("%w: shares must be positive", model.ErrInvalidAmount)
	}
	if err := pool.CheckReserves(); err != nil {
		return WithdrawQuote{}, err
	}
	if pool.TotalLpShares.IsNil() || !pool.TotalLpShares.IsPositive() {
		return WithdrawQuote{}, fmt.Errorf("%w: pool has no outstanding shares", model.ErrInsufficientShares)
	}
	if lpShares.GT(pool.TotalLpShares) {
		return WithdrawQuote{}, fmt.Errorf("%w: %s exceeds total supply %s", model.ErrInsufficientShares, lpShares, pool.TotalLpShares)
	}

	manaOut, err := fixedpoint.MulDivFloor(pool.ManaReserve, lpShares, pool.TotalLpShares)
	if err != nil {
		return WithdrawQuote{}, err
	}
	tokenOut, err := fixedpoint.MulDivFloor(pool.TokenReserve, lpShares, pool.TotalLpShares)
	if err != nil {
		return WithdrawQuote{}, err
	}

	// a full-supply withdrawal would drain the pool; the executor
	// rejects any burn that empties either reserve
	return WithdrawQuote{ManaOut: manaOut, TokenOut: tokenOut}, nil
}
