// Package ledger defines the external balance-ledger boundary. The
// engine only moves the mana leg of a trade through here; token
// accounting stays internal to the pool.
package ledger

import (
	"context"

	"cosmossdk.io/math"
)

// Ledger atomically debits and credits a user's spendable mana. Debit
// fails with model.ErrInsufficientBalance when the user cannot cover the
// amount. Implementations must respect context cancellation; the engine
// runs every call under a bounded timeout.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount math.Int) error
	Credit(ctx context.Context, userID string, amount math.Int) error
}
