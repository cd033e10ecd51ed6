// Package memory is a mutex-guarded in-process Store used by tests and
// single-node runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"

	"manaswap/internal/model"
	"manaswap/internal/storage"
)

type Store struct {
	mu        sync.RWMutex
	pools     map[string]model.Pool
	bySymbol  map[string]string
	order     []string
	trades    map[string][]model.Trade
	positions map[string]model.LpPosition
	holdings  map[string]model.TokenHolding
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		pools:     make(map[string]model.Pool),
		bySymbol:  make(map[string]string),
		trades:    make(map[string][]model.Trade),
		positions: make(map[string]model.LpPosition),
		holdings:  make(map[string]model.TokenHolding),
	}
}

func key(poolID, ownerID string) string {
	return poolID + "/" + ownerID
}

func (s *Store) CreatePool(ctx context.Context, pool model.Pool, creatorPosition model.LpPosition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySymbol[pool.Symbol]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateSymbol, pool.Symbol)
	}
	if _, ok := s.pools[pool.ID]; ok {
		return fmt.Errorf("pool id %s already exists", pool.ID)
	}

	s.pools[pool.ID] = pool
	s.bySymbol[pool.Symbol] = pool.ID
	s.order = append(s.order, pool.ID)
	s.positions[key(pool.ID, creatorPosition.OwnerID)] = creatorPosition
	return nil
}

func (s *Store) GetPool(ctx context.Context, id string) (model.Pool, error) {
	if err := ctx.Err(); err != nil {
		return model.Pool{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, ok := s.pools[id]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: %s", model.ErrPoolNotFound, id)
	}
	return pool, nil
}

func (s *Store) GetPoolBySymbol(ctx context.Context, symbol string) (model.Pool, error) {
	if err := ctx.Err(); err != nil {
		return model.Pool{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySymbol[symbol]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: symbol %s", model.ErrPoolNotFound, symbol)
	}
	return s.pools[id], nil
}

func (s *Store) ListPools(ctx context.Context, offset, limit int) ([]model.Pool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d limit %d", model.ErrInvalidAmount, offset, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset >= len(s.order) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.order) {
		end = len(s.order)
	}

	out := make([]model.Pool, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, s.pools[id])
	}
	return out, nil
}

func (s *Store) ListTrades(ctx context.Context, poolID string, limit int, before time.Time) ([]model.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.trades[poolID]
	out := make([]model.Trade, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if !before.IsZero() && !all[i].Timestamp.Before(before) {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) GetPosition(ctx context.Context, poolID, ownerID string) (model.LpPosition, error) {
	if err := ctx.Err(); err != nil {
		return model.LpPosition{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos, ok := s.positions[key(poolID, ownerID)]; ok {
		return pos, nil
	}
	return model.LpPosition{PoolID: poolID, OwnerID: ownerID, Shares: math.ZeroInt()}, nil
}

func (s *Store) GetHolding(ctx context.Context, poolID, ownerID string) (model.TokenHolding, error) {
	if err := ctx.Err(); err != nil {
		return model.TokenHolding{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.holdings[key(poolID, ownerID)]; ok {
		return h, nil
	}
	return model.TokenHolding{PoolID: poolID, OwnerID: ownerID, Amount: math.ZeroInt()}, nil
}

func (s *Store) Commit(ctx context.Context, m storage.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.pools[m.Pool.ID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrPoolNotFound, m.Pool.ID)
	}
	if current.Version != m.ExpectedVersion {
		return fmt.Errorf("%w: pool %s at version %d, expected %d",
			model.ErrConcurrencyConflict, m.Pool.ID, current.Version, m.ExpectedVersion)
	}

	s.pools[m.Pool.ID] = m.Pool
	if m.Trade != nil {
		s.trades[m.Pool.ID] = append(s.trades[m.Pool.ID], *m.Trade)
	}
	if m.Position != nil {
		k := key(m.Pool.ID, m.Position.OwnerID)
		if m.Position.Shares.IsZero() {
			delete(s.positions, k)
		} else {
			s.positions[k] = *m.Position
		}
	}
	if m.Holding != nil {
		k := key(m.Pool.ID, m.Holding.OwnerID)
		if m.Holding.Amount.IsZero() {
			delete(s.holdings, k)
		} else {
			s.holdings[k] = *m.Holding
		}
	}
	return nil
}

func (s *Store) Close() {}
