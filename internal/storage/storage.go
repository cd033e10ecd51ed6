// Package storage defines the durable pool-store boundary: pool state
// with compare-and-swap on version, the append-only trade log, and LP
// position/token holding records.
package storage

import (
	"context"
	"time"

	"manaswap/internal/model"
)

// PoolStore persists pool state keyed by id.
type PoolStore interface {
	// CreatePool persists a new pool together with the creator's
	// bootstrap LP position. Fails with model.ErrDuplicateSymbol when
	// the symbol is taken.
	CreatePool(ctx context.Context, pool model.Pool, creatorPosition model.LpPosition) error
	// GetPool fails with model.ErrPoolNotFound for unknown ids.
	GetPool(ctx context.Context, id string) (model.Pool, error)
	GetPoolBySymbol(ctx context.Context, symbol string) (model.Pool, error)
	// ListPools returns pools in creation order; a simple restartable
	// paginated read, not a stream.
	ListPools(ctx context.Context, offset, limit int) ([]model.Pool, error)
}

// TradeLog reads the append-only trade audit log. Records are never
// mutated or deleted; appends happen only through Commit.
type TradeLog interface {
	// ListTrades returns trades for a pool, newest first. A zero
	// before means no upper bound.
	ListTrades(ctx context.Context, poolID string, limit int, before time.Time) ([]model.Trade, error)
}

// PositionStore reads LP positions and token holdings. Absent records
// come back zero-valued, not as errors.
type PositionStore interface {
	GetPosition(ctx context.Context, poolID, ownerID string) (model.LpPosition, error)
	GetHolding(ctx context.Context, poolID, ownerID string) (model.TokenHolding, error)
}

// Mutation is one atomic state transition for a pool: the new pool state
// guarded by a compare-and-swap on ExpectedVersion, plus the records
// written alongside it in the same transaction.
type Mutation struct {
	// Pool is the full new state; Pool.Version must be ExpectedVersion+1.
	Pool            model.Pool
	ExpectedVersion uint64
	// Trade, when set, is appended to the audit log.
	Trade *model.Trade
	// Position, when set, replaces the owner's LP position; zero Shares
	// removes the record.
	Position *model.LpPosition
	// Holding, when set, replaces the owner's token holding; zero
	// Amount removes the record.
	Holding *model.TokenHolding
}

// Store is the full persistence surface the engine runs against.
type Store interface {
	PoolStore
	TradeLog
	PositionStore

	// Commit applies a Mutation atomically. Fails with
	// model.ErrConcurrencyConflict when the stored version no longer
	// matches ExpectedVersion, and model.ErrPoolNotFound when the pool
	// is gone.
	Commit(ctx context.Context, m Mutation) error

	Close()
}
