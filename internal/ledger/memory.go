package ledger

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/math"

	"manaswap/internal/model"
)

// Memory is an in-process Ledger used by tests and single-node runs.
type Memory struct {
	mu       sync.Mutex
	balances map[string]math.Int
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]math.Int)}
}

// Fund seeds a user's balance.
func (m *Memory) Fund(userID string, amount math.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balance(userID).Add(amount)
}

// Balance returns the current spendable balance for a user.
func (m *Memory) Balance(userID string) math.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(userID)
}

func (m *Memory) Debit(ctx context.Context, userID string, amount math.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: debit amount %s", model.ErrInvalidAmount, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.balance(userID)
	if current.LT(amount) {
		return fmt.Errorf("%w: user %s has %s, needs %s", model.ErrInsufficientBalance, userID, current, amount)
	}
	m.balances[userID] = current.Sub(amount)
	return nil
}

func (m *Memory) Credit(ctx context.Context, userID string, amount math.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: credit amount %s", model.ErrInvalidAmount, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balance(userID).Add(amount)
	return nil
}

func (m *Memory) balance(userID string) math.Int {
	if b, ok := m.balances[userID]; ok {
		return b
	}
	return math.ZeroInt()
}
