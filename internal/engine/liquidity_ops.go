package engine

import (
	"context"
	"errors"
	"fmt"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"manaswap/internal/liquidity"
	"manaswap/internal/model"
	"manaswap/internal/storage"
)

// DepositRequest adds liquidity to an existing pool. TokenIn, when set,
// must match the ratio-implied token leg exactly; a nil TokenIn accepts
// whatever the current ratio requires.
type DepositRequest struct {
	PoolID  string
	OwnerID string
	ManaIn  math.Int
	TokenIn math.Int
}

// DepositResult reports what a committed deposit consumed and minted.
type DepositResult struct {
	TokenIn        math.Int
	LpSharesMinted math.Int
	Position       model.LpPosition
}

// WithdrawResult reports what burning LP shares paid out.
type WithdrawResult struct {
	ManaOut        math.Int
	TokenOut       math.Int
	LpSharesBurned math.Int
	Position       model.LpPosition
}

// QuoteDeposit prices a deposit against current state, without locking.
func (e *Engine) QuoteDeposit(ctx context.Context, poolID string, manaIn math.Int) (liquidity.DepositQuote, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return liquidity.DepositQuote{}, err
	}
	return liquidity.QuoteDeposit(pool, manaIn)
}

// QuoteWithdraw prices a withdrawal against current state.
func (e *Engine) QuoteWithdraw(ctx context.Context, poolID string, lpShares math.Int) (liquidity.WithdrawQuote, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return liquidity.WithdrawQuote{}, err
	}
	return liquidity.QuoteWithdraw(pool, lpShares)
}

// Deposit adds liquidity under the same per-pool exclusivity as trades,
// since deposits also move reserves. The mana leg is debited from the
// ledger; the token leg comes out of the owner's holdings.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	if req.OwnerID == "" {
		return DepositResult{}, fmt.Errorf("%w: owner id required", model.ErrInvalidAmount)
	}

	lock := e.locks.get(req.PoolID)
	lock.Lock()
	defer lock.Unlock()

	debited := false
	for attempt := 0; ; attempt++ {
		pool, err := e.store.GetPool(ctx, req.PoolID)
		if err != nil {
			return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
		}

		dq, err := liquidity.QuoteDeposit(pool, req.ManaIn)
		if err != nil {
			return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
		}
		if !req.TokenIn.IsNil() && !req.TokenIn.Equal(dq.TokenInRequired) {
			err := fmt.Errorf("%w: ratio requires %s tokens for %s mana, got %s",
				model.ErrRatioMismatch, dq.TokenInRequired, req.ManaIn, req.TokenIn)
			return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
		}

		holding, err := e.store.GetHolding(ctx, req.PoolID, req.OwnerID)
		if err != nil {
			return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
		}
		if holding.Amount.LT(dq.TokenInRequired) {
			err := fmt.Errorf("%w: owner %s holds %s tokens, deposit needs %s",
				model.ErrInsufficientBalance, req.OwnerID, holding.Amount, dq.TokenInRequired)
			return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
		}

		position, err := e.store.GetPosition(ctx, req.PoolID, req.OwnerID)
		if err != nil {
			return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
		}

		if !debited {
			if err := e.ledgerCall(ctx, func(c context.Context) error {
				return e.ledger.Debit(c, req.OwnerID, req.ManaIn)
			}); err != nil {
				return DepositResult{}, err
			}
			debited = true
		}

		next := pool
		next.ManaReserve = pool.ManaReserve.Add(req.ManaIn)
		next.TokenReserve = pool.TokenReserve.Add(dq.TokenInRequired)
		next.TotalLpShares = pool.TotalLpShares.Add(dq.LpSharesMinted)
		next.Version++

		position.Shares = position.Shares.Add(dq.LpSharesMinted)
		holding.Amount = holding.Amount.Sub(dq.TokenInRequired)

		opID := uuid.NewString()
		err = e.commit(ctx, storage.Mutation{
			Pool:            next,
			ExpectedVersion: pool.Version,
			Position:        &position,
			Holding:         &holding,
		}, opID)
		if err == nil {
			e.logger.Info("deposit committed",
				zap.String("pool_id", pool.ID),
				zap.String("owner_id", req.OwnerID),
				zap.String("mana_in", req.ManaIn.String()),
				zap.String("token_in", dq.TokenInRequired.String()),
				zap.String("shares_minted", dq.LpSharesMinted.String()),
			)
			return DepositResult{
				TokenIn:        dq.TokenInRequired,
				LpSharesMinted: dq.LpSharesMinted,
				Position:       position,
			}, nil
		}
		if errors.Is(err, model.ErrConcurrencyConflict) && attempt < e.cfg.MaxRetries {
			continue
		}
		return DepositResult{}, e.abortDeposit(ctx, req, debited, err)
	}
}

// Withdraw burns LP shares and pays out both legs. The pool commit
// happens first; the mana credit follows and is never rolled back.
func (e *Engine) Withdraw(ctx context.Context, poolID, ownerID string, lpShares math.Int) (WithdrawResult, error) {
	if ownerID == "" {
		return WithdrawResult{}, fmt.Errorf("%w: owner id required", model.ErrInvalidAmount)
	}

	lock := e.locks.get(poolID)
	lock.Lock()
	defer lock.Unlock()

	var result WithdrawResult
	var opID string
	for attempt := 0; ; attempt++ {
		pool, err := e.store.GetPool(ctx, poolID)
		if err != nil {
			return WithdrawResult{}, err
		}

		position, err := e.store.GetPosition(ctx, poolID, ownerID)
		if err != nil {
			return WithdrawResult{}, err
		}
		if lpShares.IsNil() || !lpShares.IsPositive() {
			return WithdrawResult{}, fmt.Errorf("%w: shares must be positive", model.ErrInvalidAmount)
		}
		if position.Shares.LT(lpShares) {
			return WithdrawResult{}, fmt.Errorf("%w: owner %s has %s shares, burning %s",
				model.ErrInsufficientShares, ownerID, position.Shares, lpShares)
		}

		wq, err := liquidity.QuoteWithdraw(pool, lpShares)
		if err != nil {
			return WithdrawResult{}, err
		}

		next := pool
		next.ManaReserve = pool.ManaReserve.Sub(wq.ManaOut)
		next.TokenReserve = pool.TokenReserve.Sub(wq.TokenOut)
		next.TotalLpShares = pool.TotalLpShares.Sub(lpShares)
		next.Version++
		if err := next.CheckReserves(); err != nil {
			return WithdrawResult{}, fmt.Errorf("withdrawal would drain pool %s: %w", poolID, err)
		}

		holding, err := e.store.GetHolding(ctx, poolID, ownerID)
		if err != nil {
			return WithdrawResult{}, err
		}

		position.Shares = position.Shares.Sub(lpShares)
		holding.Amount = holding.Amount.Add(wq.TokenOut)

		opID = uuid.NewString()
		err = e.commit(ctx, storage.Mutation{
			Pool:            next,
			ExpectedVersion: pool.Version,
			Position:        &position,
			Holding:         &holding,
		}, opID)
		if err == nil {
			result = WithdrawResult{
				ManaOut:        wq.ManaOut,
				TokenOut:       wq.TokenOut,
				LpSharesBurned: lpShares,
				Position:       position,
			}
			break
		}
		if errors.Is(err, model.ErrConcurrencyConflict) && attempt < e.cfg.MaxRetries {
			continue
		}
		return WithdrawResult{}, err
	}

	if err := e.creditOrAlert(ctx, ownerID, result.ManaOut, opID); err != nil {
		return result, err
	}

	e.logger.Info("withdrawal committed",
		zap.String("pool_id", poolID),
		zap.String("owner_id", ownerID),
		zap.String("mana_out", result.ManaOut.String()),
		zap.String("token_out", result.TokenOut.String()),
		zap.String("shares_burned", result.LpSharesBurned.String()),
	)
	return result, nil
}

// abortDeposit mirrors abortTrade for the deposit path.
func (e *Engine) abortDeposit(ctx context.Context, req DepositRequest, debited bool, cause error) error {
	if !debited {
		return cause
	}
	return e.abortTrade(ctx, TradeRequest{
		PoolID:   req.PoolID,
		TraderID: req.OwnerID,
		Amount:   req.ManaIn,
	}, true, cause)
}
