// Package postgres provides durable Store persistence backed by
// Postgres, with compare-and-swap on the pool version column.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"manaswap/internal/model"
	"manaswap/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the engine tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS amm_pools (
			id              TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL UNIQUE,
			mana_reserve    NUMERIC(78,0) NOT NULL,
			token_reserve   NUMERIC(78,0) NOT NULL,
			total_lp_shares NUMERIC(78,0) NOT NULL,
			version         BIGINT NOT NULL,
			creator_id      TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS amm_trades (
			id                   TEXT PRIMARY KEY,
			pool_id              TEXT NOT NULL REFERENCES amm_pools(id),
			trader_id            TEXT NOT NULL,
			side                 TEXT NOT NULL,
			input_amount         NUMERIC(78,0) NOT NULL,
			output_amount        NUMERIC(78,0) NOT NULL,
			fee_amount           NUMERIC(78,0) NOT NULL,
			mana_reserve_before  NUMERIC(78,0) NOT NULL,
			token_reserve_before NUMERIC(78,0) NOT NULL,
			mana_reserve_after   NUMERIC(78,0) NOT NULL,
			token_reserve_after  NUMERIC(78,0) NOT NULL,
			ts                   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS amm_trades_pool_ts ON amm_trades (pool_id, ts DESC);

		CREATE TABLE IF NOT EXISTS amm_lp_positions (
			pool_id  TEXT NOT NULL REFERENCES amm_pools(id),
			owner_id TEXT NOT NULL,
			shares   NUMERIC(78,0) NOT NULL,
			PRIMARY KEY (pool_id, owner_id)
		);

		CREATE TABLE IF NOT EXISTS amm_token_holdings (
			pool_id  TEXT NOT NULL REFERENCES amm_pools(id),
			owner_id TEXT NOT NULL,
			amount   NUMERIC(78,0) NOT NULL,
			PRIMARY KEY (pool_id, owner_id)
		);
	`)
	return err
}

func (s *Store) CreatePool(ctx context.Context, pool model.Pool, creatorPosition model.LpPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO amm_pools (id, symbol, mana_reserve, token_reserve, total_lp_shares, version, creator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		pool.ID,
		pool.Symbol,
		pool.ManaReserve.String(),
		pool.TokenReserve.String(),
		pool.TotalLpShares.String(),
		int64(pool.Version),
		pool.CreatorID,
		pool.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", model.ErrDuplicateSymbol, pool.Symbol)
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO amm_lp_positions (pool_id, owner_id, shares) VALUES ($1, $2, $3)
	`, creatorPosition.PoolID, creatorPosition.OwnerID, creatorPosition.Shares.String())
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) GetPool(ctx context.Context, id string) (model.Pool, error) {
	return s.scanPool(s.pool.QueryRow(ctx, `
		SELECT id, symbol, mana_reserve, token_reserve, total_lp_shares, version, creator_id, created_at
		FROM amm_pools WHERE id=$1
	`, id), id)
}

func (s *Store) GetPoolBySymbol(ctx context.Context, symbol string) (model.Pool, error) {
	return s.scanPool(s.pool.QueryRow(ctx, `
		SELECT id, symbol, mana_reserve, token_reserve, total_lp_shares, version, creator_id, created_at
		FROM amm_pools WHERE symbol=$1
	`, symbol), symbol)
}

func (s *Store) scanPool(row pgx.Row, key string) (model.Pool, error) {
	var pool model.Pool
	var mana, token, shares string
	var version int64
	err := row.Scan(&pool.ID, &pool.Symbol, &mana, &token, &shares, &version, &pool.CreatorID, &pool.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, fmt.Errorf("%w: %s", model.ErrPoolNotFound, key)
		}
		return model.Pool{}, err
	}
	pool.Version = uint64(version)
	if pool.ManaReserve, err = parseAmount(mana); err != nil {
		return model.Pool{}, err
	}
	if pool.TokenReserve, err = parseAmount(token); err != nil {
		return model.Pool{}, err
	}
	if pool.TotalLpShares, err = parseAmount(shares); err != nil {
		return model.Pool{}, err
	}
	return pool, nil
}

func (s *Store) ListPools(ctx context.Context, offset, limit int) ([]model.Pool, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d limit %d", model.ErrInvalidAmount, offset, limit)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, mana_reserve, token_reserve, total_lp_shares, version, creator_id, created_at
		FROM amm_pools ORDER BY created_at, id OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pool
	for rows.Next() {
		pool, err := s.scanPool(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, rows.Err()
}

func (s *Store) ListTrades(ctx context.Context, poolID string, limit int, before time.Time) ([]model.Trade, error) {
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Hour)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, pool_id, trader_id, side, input_amount, output_amount, fee_amount,
		       mana_reserve_before, token_reserve_before, mana_reserve_after, token_reserve_after, ts
		FROM amm_trades WHERE pool_id=$1 AND ts < $2 ORDER BY ts DESC LIMIT $3
	`, poolID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var in, outAmt, fee string
		var manaB, tokenB, manaA, tokenA string
		var side string
		if err := rows.Scan(&t.ID, &t.PoolID, &t.TraderID, &side, &in, &outAmt, &fee,
			&manaB, &tokenB, &manaA, &tokenA, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		for _, field := range []struct {
			dst *math.Int
			src string
		}{
			{&t.InputAmount, in}, {&t.OutputAmount, outAmt}, {&t.FeeAmount, fee},
			{&t.ManaReserveBefore, manaB}, {&t.TokenReserveBefore, tokenB},
			{&t.ManaReserveAfter, manaA}, {&t.TokenReserveAfter, tokenA},
		} {
			v, err := parseAmount(field.src)
			if err != nil {
				return nil, err
			}
			*field.dst = v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetPosition(ctx context.Context, poolID, ownerID string) (model.LpPosition, error) {
	pos := model.LpPosition{PoolID: poolID, OwnerID: ownerID, Shares: math.ZeroInt()}
	var shares string
	err := s.pool.QueryRow(ctx, `
		SELECT shares FROM amm_lp_positions WHERE pool_id=$1 AND owner_id=$2
	`, poolID, ownerID).Scan(&shares)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pos, nil
		}
		return model.LpPosition{}, err
	}
	if pos.Shares, err = parseAmount(shares); err != nil {
		return model.LpPosition{}, err
	}
	return pos, nil
}

func (s *Store) GetHolding(ctx context.Context, poolID, ownerID string) (model.TokenHolding, error) {
	holding := model.TokenHolding{PoolID: poolID, OwnerID: ownerID, Amount: math.ZeroInt()}
	var amount string
	err := s.pool.QueryRow(ctx, `
		SELECT amount FROM amm_token_holdings WHERE pool_id=$1 AND owner_id=$2
	`, poolID, ownerID).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return holding, nil
		}
		return model.TokenHolding{}, err
	}
	if holding.Amount, err = parseAmount(amount); err != nil {
		return model.TokenHolding{}, err
	}
	return holding, nil
}

// Commit applies the mutation in one transaction, guarded by a
// compare-and-swap on the pool version.
func (s *Store) Commit(ctx context.Context, m storage.Mutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE amm_pools
		SET mana_reserve=$1, token_reserve=$2, total_lp_shares=$3, version=$4
		WHERE id=$5 AND version=$6
	`,
		m.Pool.ManaReserve.String(),
		m.Pool.TokenReserve.String(),
		m.Pool.TotalLpShares.String(),
		int64(m.Pool.Version),
		m.Pool.ID,
		int64(m.ExpectedVersion),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var current int64
		err := tx.QueryRow(ctx, `SELECT version FROM amm_pools WHERE id=$1`, m.Pool.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", model.ErrPoolNotFound, m.Pool.ID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: pool %s at version %d, expected %d",
			model.ErrConcurrencyConflict, m.Pool.ID, current, m.ExpectedVersion)
	}

	if m.Trade != nil {
		t := m.Trade
		_, err = tx.Exec(ctx, `
			INSERT INTO amm_trades (id, pool_id, trader_id, side, input_amount, output_amount, fee_amount,
				mana_reserve_before, token_reserve_before, mana_reserve_after, token_reserve_after, ts)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			t.ID, t.PoolID, t.TraderID, string(t.Side),
			t.InputAmount.String(), t.OutputAmount.String(), t.FeeAmount.String(),
			t.ManaReserveBefore.String(), t.TokenReserveBefore.String(),
			t.ManaReserveAfter.String(), t.TokenReserveAfter.String(),
			t.Timestamp,
		)
		if err != nil {
			return err
		}
	}

	if m.Position != nil {
		if m.Position.Shares.IsZero() {
			_, err = tx.Exec(ctx, `DELETE FROM amm_lp_positions WHERE pool_id=$1 AND owner_id=$2`,
				m.Pool.ID, m.Position.OwnerID)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO amm_lp_positions (pool_id, owner_id, shares) VALUES ($1, $2, $3)
				ON CONFLICT (pool_id, owner_id) DO UPDATE SET shares = EXCLUDED.shares
			`, m.Pool.ID, m.Position.OwnerID, m.Position.Shares.String())
		}
		if err != nil {
			return err
		}
	}

	if m.Holding != nil {
		if m.Holding.Amount.IsZero() {
			_, err = tx.Exec(ctx, `DELETE FROM amm_token_holdings WHERE pool_id=$1 AND owner_id=$2`,
				m.Pool.ID, m.Holding.OwnerID)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO amm_token_holdings (pool_id, owner_id, amount) VALUES ($1, $2, $3)
				ON CONFLICT (pool_id, owner_id) DO UPDATE SET amount = EXCLUDED.amount
			`, m.Pool.ID, m.Holding.OwnerID, m.Holding.Amount.String())
		}
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func parseAmount(s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
