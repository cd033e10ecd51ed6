// Package registry creates and looks up pools: a thin coordination
// layer over the pool store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"manaswap/internal/ledger"
	"manaswap/internal/liquidity"
	"manaswap/internal/model"
	"manaswap/internal/storage"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

// PoolSummary is one row of a pool listing, with the derived spot price
// a dashboard renders next to the reserves.
type PoolSummary struct {
	model.Pool
	SpotPrice math.LegacyDec `json:"spot_price"`
}

// Registry creates pools and serves lookups. Pool mutation after
// creation belongs to the trade executor, not here.
type Registry struct {
	store  storage.Store
	ledger ledger.Ledger
	logger *zap.Logger
}

func New(store storage.Store, ldg ledger.Ledger, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, ledger: ldg, logger: logger}
}

// CreatePool launches a new pool. The creator funds the mana side from
// their ledger balance and defines the initial price; the token side is
// minted with the pool. The creator receives the bootstrap LP supply.
func (r *Registry) CreatePool(ctx context.Context, creatorID, symbol string, initialMana, initialTokens math.Int) (model.Pool, error) {
	if creatorID == "" {
		return model.Pool{}, fmt.Errorf("%w: creator id required", model.ErrInvalidAmount)
	}
	if !symbolPattern.MatchString(symbol) {
		return model.Pool{}, fmt.Errorf("%w: symbol %q must be 2-12 chars of A-Z0-9", model.ErrInvalidAmount, symbol)
	}
	if initialMana.IsNil() || !initialMana.IsPositive() || initialTokens.IsNil() || !initialTokens.IsPositive() {
		return model.Pool{}, fmt.Errorf("%w: initial reserves must be positive", model.ErrInvalidAmount)
	}

	if _, err := r.store.GetPoolBySymbol(ctx, symbol); err == nil {
		return model.Pool{}, fmt.Errorf("%w: %s", model.ErrDuplicateSymbol, symbol)
	} else if !errors.Is(err, model.ErrPoolNotFound) {
		return model.Pool{}, err
	}

	if err := r.ledger.Debit(ctx, creatorID, initialMana); err != nil {
		return model.Pool{}, err
	}

	pool := model.Pool{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		ManaReserve:   initialMana,
		TokenReserve:  initialTokens,
		TotalLpShares: liquidity.BootstrapShares,
		Version:       1,
		CreatorID:     creatorID,
		CreatedAt:     time.Now().UTC(),
	}
	position := model.LpPosition{
		PoolID:  pool.ID,
		OwnerID: creatorID,
		Shares:  liquidity.BootstrapShares,
	}

	if err := r.store.CreatePool(ctx, pool, position); err != nil {
		// the debit already happened; put the mana back before
		// reporting the failure
		if creditErr := r.ledger.Credit(ctx, creatorID, initialMana); creditErr != nil {
			r.logger.Error("refund failed after pool creation error",
				zap.Bool("alert", true),
				zap.String("creator_id", creatorID),
				zap.String("amount", initialMana.String()),
				zap.NamedError("cause", err),
				zap.NamedError("refund_error", creditErr),
			)
		}
		return model.Pool{}, err
	}

	r.logger.Info("pool created",
		zap.String("pool_id", pool.ID),
		zap.String("symbol", symbol),
		zap.String("creator_id", creatorID),
		zap.String("mana_reserve", initialMana.String()),
		zap.String("token_reserve", initialTokens.String()),
	)
	return pool, nil
}

// GetPool resolves one pool by id.
func (r *Registry) GetPool(ctx context.Context, id string) (model.Pool, error) {
	return r.store.GetPool(ctx, id)
}

// GetPoolBySymbol resolves one pool by its ticker.
func (r *Registry) GetPoolBySymbol(ctx context.Context, symbol string) (model.Pool, error) {
	return r.store.GetPoolBySymbol(ctx, symbol)
}

// ListPools returns a page of pool summaries in creation order.
func (r *Registry) ListPools(ctx context.Context, offset, limit int) ([]PoolSummary, error) {
	pools, err := r.store.ListPools(ctx, offset, limit)
	if err != nil {
		return nil, err
	}

	out := make([]PoolSummary, 0, len(pools))
	for _, p := range pools {
		out = append(out, PoolSummary{Pool: p, SpotPrice: p.SpotPrice()})
	}
	return out, nil
}
