package ledger

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"manaswap/internal/model"
)

func TestMemoryDebitCredit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Fund("alice", math.NewInt(1000))

	require.NoError(t, m.Debit(ctx, "alice", math.NewInt(400)))
	require.Equal(t, int64(600), m.Balance("alice").Int64())

	err := m.Debit(ctx, "alice", math.NewInt(601))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	require.Equal(t, int64(600), m.Balance("alice").Int64())

	require.NoError(t, m.Credit(ctx, "bob", math.NewInt(50)))
	require.Equal(t, int64(50), m.Balance("bob").Int64())
}

func TestMemoryRespectsContext(t *testing.T) {
	m := NewMemory()
	m.Fund("alice", math.NewInt(1000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, m.Debit(ctx, "alice", math.NewInt(1)))
	require.Equal(t, int64(1000), m.Balance("alice").Int64())
}
