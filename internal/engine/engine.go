// Package engine orchestrates trades and liquidity operations
// end-to-end: per-pool exclusivity, requoting against fresh state,
// slippage enforcement, the ledger leg, and the atomic pool commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"manaswap/internal/ledger"
	"manaswap/internal/model"
	"manaswap/internal/quote"
	"manaswap/internal/storage"
)

// Config holds runtime settings for the executor.
type Config struct {
	// FeeRate is the swap fee charged on the side entering the pool.
	FeeRate math.LegacyDec
	// MaxRetries bounds internal retries on version conflicts before
	// the conflict surfaces to the caller.
	MaxRetries int
	// RetryBackoff is the initial backoff for commit retries.
	RetryBackoff time.Duration
	// LedgerTimeout bounds every balance-ledger call.
	LedgerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FeeRate.IsNil() {
		c.FeeRate = quote.DefaultFeeRate
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 3 * time.Second
	}
	return c
}

// Engine executes trades and liquidity operations against the pool
// store and balance ledger.
type Engine struct {
	cfg    Config
	store  storage.Store
	ledger ledger.Ledger
	logger *zap.Logger
	locks  *poolLocks
}

func New(cfg Config, store storage.Store, ldg ledger.Ledger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		store:  store,
		ledger: ldg,
		logger: logger,
		locks:  newPoolLocks(),
	}
}

// FeeRate returns the configured swap fee.
func (e *Engine) FeeRate() math.LegacyDec {
	return e.cfg.FeeRate
}

// TradeRequest describes one buy or sell. MinOutput is the caller's
// slippage floor; a nil value means no floor.
type TradeRequest struct {
	PoolID    string
	TraderID  string
	Amount    math.Int
	MinOutput math.Int
}

// QuoteBuy prices a buy against the current pool state without locking
// or side effects.
func (e *Engine) QuoteBuy(ctx context.Context, poolID string, manaIn math.Int) (quote.Quote, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Buy(pool, manaIn, e.cfg.FeeRate)
}

// QuoteSell prices a sell against the current pool state.
func (e *Engine) QuoteSell(ctx context.Context, poolID string, tokensIn math.Int) (quote.Quote, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Sell(pool, tokensIn, e.cfg.FeeRate)
}

// ExecuteBuy runs the full trade protocol for a buy: lock, requote,
// slippage check, ledger debit, commit. The quote is always recomputed
// under the lock; a quote the caller saw earlier is only advisory.
func (e *Engine) ExecuteBuy(ctx context.Context, req TradeRequest) (model.Trade, error) {
	if req.TraderID == "" {
		return model.Trade{}, fmt.Errorf("%w: trader id required", model.ErrInvalidAmount)
	}

	lock := e.locks.get(req.PoolID)
	lock.Lock()
	defer lock.Unlock()

	debited := false
	for attempt := 0; ; attempt++ {
		pool, err := e.store.GetPool(ctx, req.PoolID)
		if err != nil {
			return model.Trade{}, e.abortTrade(ctx, req, debited, err)
		}

		q, err := quote.Buy(pool, req.Amount, e.cfg.FeeRate)
		if err != nil {
			return model.Trade{}, e.abortTrade(ctx, req, debited, err)
		}
		if !req.MinOutput.IsNil() && q.OutputAmount.LT(req.MinOutput) {
			err := fmt.Errorf("%w: output %s below floor %s", model.ErrSlippageExceeded, q.OutputAmount, req.MinOutput)
			return model.Trade{}, e.abortTrade(ctx, req, debited, err)
		}

		holding, err := e.store.GetHolding(ctx, req.PoolID, req.TraderID)
		if err != nil {
			return model.Trade{}, e.abortTrade(ctx, req, debited, err)
		}

		if !debited {
			if err := e.ledgerCall(ctx, func(c context.Context) error {
				return e.ledger.Debit(c, req.TraderID, req.Amount)
			}); err != nil {
				return model.Trade{}, err
			}
			debited = true
		}

		trade := newTrade(pool, req.TraderID, q)
		holding.Amount = holding.Amount.Add(q.OutputAmount)

		err = e.commit(ctx, storage.Mutation{
			Pool:            nextPool(pool, q),
			ExpectedVersion: pool.Version,
			Trade:           &trade,
			Holding:         &holding,
		}, trade.ID)
		if err == nil {
			e.logger.Info("trade committed",
				zap.String("pool_id", pool.ID),
				zap.String("trade_id", trade.ID),
				zap.String("side", string(trade.Side)),
				zap.String("input", trade.InputAmount.String()),
				zap.String("output", trade.OutputAmount.String()),
				zap.String("fee", trade.FeeAmount.String()),
			)
			return trade, nil
		}
		if errors.Is(err, model.ErrConcurrencyConflict) && attempt < e.cfg.MaxRetries {
			continue
		}
		return model.Trade{}, e.abortTrade(ctx, req, debited, err)
	}
}

// ExecuteSell runs the trade protocol for a sell. The token leg is
// internal accounting, so the pool commit happens first and the mana
// credit follows; a committed sell is never rolled back.
func (e *Engine) ExecuteSell(ctx context.Context, req TradeRequest) (model.Trade, error) {
	if req.TraderID == "" {
		return model.Trade{}, fmt.Errorf("%w: trader id required", model.ErrInvalidAmount)
	}

	lock := e.locks.get(req.PoolID)
	lock.Lock()
	defer lock.Unlock()

	var trade model.Trade
	for attempt := 0; ; attempt++ {
		pool, err := e.store.GetPool(ctx, req.PoolID)
		if err != nil {
			return model.Trade{}, err
		}

		q, err := quote.Sell(pool, req.Amount, e.cfg.FeeRate)
		if err != nil {
			return model.Trade{}, err
		}
		if !req.MinOutput.IsNil() && q.OutputAmount.LT(req.MinOutput) {
			return model.Trade{}, fmt.Errorf("%w: output %s below floor %s", model.ErrSlippageExceeded, q.OutputAmount, req.MinOutput)
		}

		holding, err := e.store.GetHolding(ctx, req.PoolID, req.TraderID)
		if err != nil {
			return model.Trade{}, err
		}
		if holding.Amount.LT(req.Amount) {
			return model.Trade{}, fmt.Errorf("%w: trader %s holds %s tokens, selling %s",
				model.ErrInsufficientBalance, req.TraderID, holding.Amount, req.Amount)
		}

		trade = newTrade(pool, req.TraderID, q)
		holding.Amount = holding.Amount.Sub(req.Amount)

		err = e.commit(ctx, storage.Mutation{
			Pool:            nextPool(pool, q),
			ExpectedVersion: pool.Version,
			Trade:           &trade,
			Holding:         &holding,
		}, trade.ID)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrConcurrencyConflict) && attempt < e.cfg.MaxRetries {
			continue
		}
		return model.Trade{}, err
	}

	// the trade is committed; the payout must follow even if the first
	// credit attempts fail
	if err := e.creditOrAlert(ctx, req.TraderID, trade.OutputAmount, trade.ID); err != nil {
		return trade, err
	}

	e.logger.Info("trade committed",
		zap.String("pool_id", trade.PoolID),
		zap.String("trade_id", trade.ID),
		zap.String("side", string(trade.Side)),
		zap.String("input", trade.InputAmount.String()),
		zap.String("output", trade.OutputAmount.String()),
		zap.String("fee", trade.FeeAmount.String()),
	)
	return trade, nil
}

// commit persists a mutation, retrying transient store failures with
// backoff. Version conflicts surface immediately so the caller can
// requote.
func (e *Engine) commit(ctx context.Context, m storage.Mutation, opID string) error {
	var commitErr error
	retryErr := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(c context.Context) error {
		commitErr = e.store.Commit(c, m)
		if commitErr == nil {
			return nil
		}
		if errors.Is(commitErr, model.ErrConcurrencyConflict) || errors.Is(commitErr, model.ErrPoolNotFound) {
			// not retryable here; the caller requotes against fresh state
			return nil
		}
		e.logger.Warn("pool commit failed, retrying",
			zap.String("pool_id", m.Pool.ID),
			zap.String("op_id", opID),
			zap.Error(commitErr),
		)
		return commitErr
	})
	if commitErr != nil {
		return commitErr
	}
	return retryErr
}

// abortTrade unwinds a failed buy. When the ledger was already debited
// the refund keeps the trader whole; a refund that itself fails is the
// fatal charged-without-trade condition and is alerted, never swallowed.
func (e *Engine) abortTrade(ctx context.Context, req TradeRequest, debited bool, cause error) error {
	if !debited {
		return cause
	}

	refundErr := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(c context.Context) error {
		return e.ledgerCall(c, func(lc context.Context) error {
			return e.ledger.Credit(lc, req.TraderID, req.Amount)
		})
	})
	if refundErr != nil {
		e.logger.Error("trader debited with no committed trade",
			zap.Bool("alert", true),
			zap.String("pool_id", req.PoolID),
			zap.String("trader_id", req.TraderID),
			zap.String("amount", req.Amount.String()),
			zap.NamedError("cause", cause),
			zap.NamedError("refund_error", refundErr),
		)
		return fmt.Errorf("trade aborted and refund failed: %w", cause)
	}
	return cause
}

// creditOrAlert pays out the mana leg after a committed trade or
// withdrawal. Persistent failure means money is owed with the trade
// already on the books, which is alerted as fatal.
func (e *Engine) creditOrAlert(ctx context.Context, userID string, amount math.Int, opID string) error {
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(c context.Context) error {
		return e.ledgerCall(c, func(lc context.Context) error {
			return e.ledger.Credit(lc, userID, amount)
		})
	})
	if err != nil {
		e.logger.Error("payout failed after commit",
			zap.Bool("alert", true),
			zap.String("op_id", opID),
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return fmt.Errorf("payout of %s to %s failed after commit: %w", amount, userID, err)
	}
	return nil
}

// ledgerCall runs one ledger operation under the configured timeout.
func (e *Engine) ledgerCall(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()

	err := fn(callCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrLedgerTimeout, err)
	}
	return err
}

func newTrade(pool model.Pool, traderID string, q quote.Quote) model.Trade {
	return model.Trade{
		ID:                 uuid.NewString(),
		PoolID:             pool.ID,
		TraderID:           traderID,
		Side:               q.Side,
		InputAmount:        q.InputAmount,
		OutputAmount:       q.OutputAmount,
		FeeAmount:          q.FeeAmount,
		ManaReserveBefore:  pool.ManaReserve,
		TokenReserveBefore: pool.TokenReserve,
		ManaReserveAfter:   q.NewManaReserve,
		TokenReserveAfter:  q.NewTokenReserve,
		Timestamp:          time.Now().UTC(),
	}
}

func nextPool(pool model.Pool, q quote.Quote) model.Pool {
	pool.ManaReserve = q.NewManaReserve
	pool.TokenReserve = q.NewTokenReserve
	pool.Version++
	return pool
}
