package model

import (
	"time"

	"cosmossdk.io/math"
)

// Side identifies the direction of a trade against the pool.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is one committed swap. Records are append-only: price history is
// reconstructed by replaying them, never by mutating them.
type Trade struct {
	ID                 string    `json:"id"`
	PoolID             string    `json:"pool_id"`
	TraderID           string    `json:"trader_id"`
	Side               Side      `json:"side"`
	InputAmount        math.Int  `json:"input_amount"`
	OutputAmount       math.Int  `json:"output_amount"`
	FeeAmount          math.Int  `json:"fee_amount"`
	ManaReserveBefore  math.Int  `json:"mana_reserve_before"`
	TokenReserveBefore math.Int  `json:"token_reserve_before"`
	ManaReserveAfter   math.Int  `json:"mana_reserve_after"`
	TokenReserveAfter  math.Int  `json:"token_reserve_after"`
	Timestamp          time.Time `json:"timestamp"`
}

// Price returns the pool price (mana per token) immediately after this
// trade committed.
func (t Trade) Price() math.LegacyDec {
	if t.TokenReserveAfter.IsNil() || t.TokenReserveAfter.IsZero() {
		return math.LegacyZeroDec()
	}
	return math.LegacyNewDecFromInt(t.ManaReserveAfter).QuoInt(t.TokenReserveAfter)
}
