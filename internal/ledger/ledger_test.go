package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.SQLite) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.UpsertSpecies(context.Background(), species.Definition{
		Id: 1, Key: "france", Name: "France", Weight: 1, Enabled: true,
	}))
	return New(st, nil), st
}

func TestLedgerCreditDebit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "alice", 120))
	require.NoError(t, l.Debit(ctx, "alice", 20))

	acct, err := l.Account(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), acct.Balance)

	err = l.Debit(ctx, "alice", 500)
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
}

func TestLedgerAccountCreatesRow(t *testing.T) {
	l, _ := newTestLedger(t)

	acct, err := l.Account(context.Background(), "fresh")
	require.NoError(t, err)
	require.Equal(t, int64(0), acct.Balance)
	require.True(t, acct.LastCatchAt.IsZero())
}

func TestLedgerCollection(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.AddInstance(ctx, store.Instance{
		Id: "i1", SpeciesId: 1, OwnerId: "alice", Attack: 3, Health: -2, CaughtAt: time.Now(),
	}))

	got, err := l.Collection(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "i1", got[0].Id)

	got, err = l.Collection(ctx, "bob", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLedgerAddInstanceRequiresOwner(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.AddInstance(context.Background(), store.Instance{
		Id: "i1", SpeciesId: 1, CaughtAt: time.Now(),
	})
	require.Error(t, err)
}

func TestLedgerRemoveInstance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.AddInstance(ctx, store.Instance{
		Id: "i1", SpeciesId: 1, OwnerId: "alice", CaughtAt: time.Now(),
	}))

	err := l.RemoveInstance(ctx, "bob", "i1")
	require.ErrorIs(t, err, store.ErrNotOwned)

	require.NoError(t, l.RemoveInstance(ctx, "alice", "i1"))
	got, err := l.Collection(ctx, "alice", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}
