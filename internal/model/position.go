package model

import "cosmossdk.io/math"

// LpPosition is one owner's proportional claim on a pool's reserves.
// It is created on first deposit and removed when shares reach zero.
type LpPosition struct {
	PoolID  string   `json:"pool_id"`
	OwnerID string   `json:"owner_id"`
	Shares  math.Int `json:"shares"`
}

// TokenHolding tracks how many pool tokens an owner holds. Token custody
// is internal engine accounting; only the mana leg touches the external
// balance ledger.
type TokenHolding struct {
	PoolID  string   `json:"pool_id"`
	OwnerID string   `json:"owner_id"`
	Amount  math.Int `json:"amount"`
}
