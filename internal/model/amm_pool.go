package model

import (
	"fmt"
	"time"

	"cosmossdk.io/math"

	"manaswap/internal/fixedpoint"
)

// Pool holds the reserves, LP supply, and optimistic-concurrency token
// for one token/mana pool. Mutations go through the trade executor; the
// Version field increments on every committed change.
type Pool struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	ManaReserve   math.Int  `json:"mana_reserve"`
	TokenReserve  math.Int  `json:"token_reserve"`
	TotalLpShares math.Int  `json:"total_lp_shares"`
	Version       uint64    `json:"version"`
	CreatorID     string    `json:"creator_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// CheckReserves verifies both reserves are strictly positive. A pool
// that would reach zero on either side must reject the mutation.
func (p Pool) CheckReserves() error {
	if p.ManaReserve.IsNil() || p.TokenReserve.IsNil() {
		return fmt.Errorf("%w: reserves not initialized", ErrInvalidAmount)
	}
	if !p.ManaReserve.IsPositive() || !p.TokenReserve.IsPositive() {
		return fmt.Errorf("%w: reserves must stay positive (mana=%s token=%s)",
			ErrInsufficientLiquidity, p.ManaReserve, p.TokenReserve)
	}
	return nil
}

// Product returns the constant-product invariant value k = mana*token.
func (p Pool) Product() (math.Int, error) {
	return fixedpoint.SafeMul(p.ManaReserve, p.TokenReserve)
}

// SpotPrice returns the marginal price in mana per token.
func (p Pool) SpotPrice() math.LegacyDec {
	if p.TokenReserve.IsNil() || p.TokenReserve.IsZero() {
		return math.LegacyZeroDec()
	}
	return math.LegacyNewDecFromInt(p.ManaReserve).QuoInt(p.TokenReserve)
}
