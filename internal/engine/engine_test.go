package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manaswap/internal/ledger"
	"manaswap/internal/model"
	"manaswap/internal/storage"
	"manaswap/internal/storage/memory"
)

func newHarness(t *testing.T) (*Engine, *memory.Store, *ledger.Memory) {
	t.Helper()
	store := memory.NewStore()
	ldg := ledger.NewMemory()
	eng := New(Config{}, store, ldg, zap.NewNop())

	pool := model.Pool{
		ID:            "pool-1",
		Symbol:        "DOGE",
		ManaReserve:   math.NewInt(50000),
		TokenReserve:  math.NewInt(100000),
		TotalLpShares: math.NewInt(1_000_000),
		Version:       1,
		CreatorID:     "alice",
		CreatedAt:     time.Now().UTC(),
	}
	pos := model.LpPosition{PoolID: pool.ID, OwnerID: "alice", Shares: pool.TotalLpShares}
	require.NoError(t, store.CreatePool(context.Background(), pool, pos))
	return eng, store, ldg
}

func TestExecuteBuy(t *testing.T) {
	eng, store, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(10_000))

	trade, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(1000),
	})
	require.NoError(t, err)

	assert.Equal(t, model.SideBuy, trade.Side)
	assert.Equal(t, int64(1955), trade.OutputAmount.Int64())
	assert.Equal(t, int64(3), trade.FeeAmount.Int64())
	assert.Equal(t, int64(9000), ldg.Balance("bob").Int64())

	pool, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, int64(51000), pool.ManaReserve.Int64())
	assert.Equal(t, int64(98045), pool.TokenReserve.Int64())
	assert.Equal(t, uint64(2), pool.Version)

	holding, err := store.GetHolding(ctx, "pool-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1955), holding.Amount.Int64())
}

func TestExecuteSellRequiresHoldings(t *testing.T) {
	eng, _, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(10_000))

	_, err := eng.ExecuteSell(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(500),
	})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestBuyThenSellRoundTrip(t *testing.T) {
	eng, _, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(10_000))

	buy, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(1000),
	})
	require.NoError(t, err)

	sell, err := eng.ExecuteSell(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: buy.OutputAmount,
	})
	require.NoError(t, err)

	// fee leakage: the round trip ends below the starting balance
	assert.True(t, sell.OutputAmount.LT(math.NewInt(1000)))
	assert.True(t, ldg.Balance("bob").LT(math.NewInt(10_000)))
}

func TestSlippageAbortLeavesStateUntouched(t *testing.T) {
	eng, store, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(10_000))

	before, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)

	_, err = eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(1000),
		MinOutput: math.NewInt(2000), // true output is 1955
	})
	require.ErrorIs(t, err, model.ErrSlippageExceeded)

	after, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, before.ManaReserve.Equal(after.ManaReserve))
	assert.True(t, before.TokenReserve.Equal(after.TokenReserve))
	assert.Equal(t, int64(10_000), ldg.Balance("bob").Int64())

	trades, err := store.ListTrades(ctx, "pool-1", 10, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestInsufficientBalanceAborts(t *testing.T) {
	eng, store, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(10))

	_, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(1000),
	})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	pool, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pool.Version)
	assert.Equal(t, int64(10), ldg.Balance("bob").Int64())
}

func TestUnknownPool(t *testing.T) {
	eng, _, _ := newHarness(t)

	_, err := eng.ExecuteBuy(context.Background(), TradeRequest{
		PoolID: "nope", TraderID: "bob", Amount: math.NewInt(1000),
	})
	require.ErrorIs(t, err, model.ErrPoolNotFound)

	_, err = eng.QuoteBuy(context.Background(), "nope", math.NewInt(1000))
	require.ErrorIs(t, err, model.ErrPoolNotFound)
}

// flakyStore fails Commit a fixed number of times before delegating.
type flakyStore struct {
	storage.Store
	mu       sync.Mutex
	failures int
	commits  int
}

func (f *flakyStore) Commit(ctx context.Context, m storage.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("store unavailable")
	}
	return f.Store.Commit(ctx, m)
}

func TestCommitRetriedAfterDebit(t *testing.T) {
	store := memory.NewStore()
	ldg := ledger.NewMemory()
	flaky := &flakyStore{Store: store, failures: 2}
	eng := New(Config{RetryBackoff: time.Millisecond}, flaky, ldg, zap.NewNop())

	ctx := context.Background()
	pool := model.Pool{
		ID: "pool-1", Symbol: "DOGE",
		ManaReserve: math.NewInt(50000), TokenReserve: math.NewInt(100000),
		TotalLpShares: math.NewInt(1_000_000), Version: 1,
		CreatorID: "alice", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePool(ctx, pool, model.LpPosition{
		PoolID: "pool-1", OwnerID: "alice", Shares: pool.TotalLpShares,
	}))
	ldg.Fund("bob", math.NewInt(10_000))

	trade, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(1000),
	})
	require.NoError(t, err)

	// the debit stood through the transient failures and the commit
	// eventually landed
	assert.Equal(t, int64(9000), ldg.Balance("bob").Int64())
	assert.Equal(t, 3, flaky.commits)
	assert.Equal(t, int64(1955), trade.OutputAmount.Int64())

	got, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
}

func TestConcurrentTradesLinearize(t *testing.T) {
	eng, store, ldg := newHarness(t)
	ctx := context.Background()

	const traders = 8
	var wg sync.WaitGroup
	for i := 0; i < traders; i++ {
		trader := fmt.Sprintf("trader-%d", i)
		ldg.Fund(trader, math.NewInt(5000))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.ExecuteBuy(ctx, TradeRequest{
				PoolID: "pool-1", TraderID: trader, Amount: math.NewInt(1000),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	trades, err := store.ListTrades(ctx, "pool-1", traders, time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, traders)

	// replay the committed order sequentially: each trade's before-state
	// must chain from the previous after-state, and the final state must
	// match the stored pool
	mana := math.NewInt(50000)
	token := math.NewInt(100000)
	for i := len(trades) - 1; i >= 0; i-- { // ListTrades is newest first
		tr := trades[i]
		require.True(t, tr.ManaReserveBefore.Equal(mana), "trade %s chains from stale state", tr.ID)
		require.True(t, tr.TokenReserveBefore.Equal(token))

		beforeK := mana.Mul(token)
		afterK := tr.ManaReserveAfter.Mul(tr.TokenReserveAfter)
		require.True(t, afterK.GTE(beforeK), "invariant shrank at trade %s", tr.ID)

		mana = tr.ManaReserveAfter
		token = tr.TokenReserveAfter
	}

	pool, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.True(t, pool.ManaReserve.Equal(mana))
	assert.True(t, pool.TokenReserve.Equal(token))
	assert.Equal(t, uint64(1+traders), pool.Version)
}

func TestDepositAndWithdraw(t *testing.T) {
	eng, store, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(50_000))

	// bob needs tokens for the deposit leg; buy some first
	buy, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(10_000),
	})
	require.NoError(t, err)

	dq, err := eng.QuoteDeposit(ctx, "pool-1", math.NewInt(3000))
	require.NoError(t, err)
	require.True(t, dq.TokenInRequired.LTE(buy.OutputAmount), "test setup: not enough tokens")

	res, err := eng.Deposit(ctx, DepositRequest{
		PoolID: "pool-1", OwnerID: "bob", ManaIn: math.NewInt(3000),
	})
	require.NoError(t, err)
	assert.True(t, res.LpSharesMinted.IsPositive())
	assert.True(t, res.Position.Shares.Equal(res.LpSharesMinted))

	balanceAfterDeposit := ldg.Balance("bob")

	wd, err := eng.Withdraw(ctx, "pool-1", "bob", res.LpSharesMinted)
	require.NoError(t, err)
	// floors mean the payout is within one unit of the deposit
	assert.True(t, wd.ManaOut.LTE(math.NewInt(3000)))
	assert.True(t, wd.ManaOut.GTE(math.NewInt(2999)))
	assert.True(t, wd.TokenOut.LTE(res.TokenIn))
	assert.True(t, ldg.Balance("bob").Equal(balanceAfterDeposit.Add(wd.ManaOut)))

	pos, err := store.GetPosition(ctx, "pool-1", "bob")
	require.NoError(t, err)
	assert.True(t, pos.Shares.IsZero())
}

func TestDepositRatioMismatch(t *testing.T) {
	eng, _, ldg := newHarness(t)
	ctx := context.Background()
	ldg.Fund("bob", math.NewInt(50_000))

	_, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(10_000),
	})
	require.NoError(t, err)

	_, err = eng.Deposit(ctx, DepositRequest{
		PoolID: "pool-1", OwnerID: "bob",
		ManaIn:  math.NewInt(3000),
		TokenIn: math.NewInt(1), // nowhere near the ratio
	})
	require.ErrorIs(t, err, model.ErrRatioMismatch)
}

func TestWithdrawInsufficientShares(t *testing.T) {
	eng, _, _ := newHarness(t)

	_, err := eng.Withdraw(context.Background(), "pool-1", "bob", math.NewInt(10))
	require.ErrorIs(t, err, model.ErrInsufficientShares)
}

func TestWithdrawCannotDrainPool(t *testing.T) {
	eng, _, _ := newHarness(t)

	// alice owns the full supply; burning everything would zero both
	// reserves
	_, err := eng.Withdraw(context.Background(), "pool-1", "alice", math.NewInt(1_000_000))
	require.ErrorIs(t, err, model.ErrInsufficientLiquidity)
}

func TestLedgerTimeout(t *testing.T) {
	store := memory.NewStore()
	eng := New(Config{LedgerTimeout: 10 * time.Millisecond, RetryBackoff: time.Millisecond},
		store, slowLedger{}, zap.NewNop())

	ctx := context.Background()
	pool := model.Pool{
		ID: "pool-1", Symbol: "DOGE",
		ManaReserve: math.NewInt(50000), TokenReserve: math.NewInt(100000),
		TotalLpShares: math.NewInt(1_000_000), Version: 1,
		CreatorID: "alice", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePool(ctx, pool, model.LpPosition{
		PoolID: "pool-1", OwnerID: "alice", Shares: pool.TotalLpShares,
	}))

	_, err := eng.ExecuteBuy(ctx, TradeRequest{
		PoolID: "pool-1", TraderID: "bob", Amount: math.NewInt(1000),
	})
	require.ErrorIs(t, err, model.ErrLedgerTimeout)

	got, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Version)
}

// slowLedger blocks until the call context expires.
type slowLedger struct{}

func (slowLedger) Debit(ctx context.Context, userID string, amount math.Int) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowLedger) Credit(ctx context.Context, userID string, amount math.Int) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRetryHelperStopsOnSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHelperHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, 5, time.Millisecond, func(context.Context) error {
		return errors.New("always")
	})
	require.ErrorIs(t, err, context.Canceled)
}
