package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInsertInstanceAndQuery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSpecies(t, st, testSpecies(1, "france", true))

	inst := testInstance("i1", "alice", 1)
	require.NoError(t, st.InsertInstance(ctx, inst))

	got, err := st.InstanceById(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.OwnerId)
	require.Equal(t, 5, got.Attack)
	require.Equal(t, -3, got.Health)
	require.Empty(t, got.LockedBy)

	// minting also creates the owner's ledger row
	_, err = st.Account(ctx, "alice")
	require.NoError(t, err)
}

func TestInsertInstanceDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSpecies(t, st, testSpecies(1, "france", true))

	require.NoError(t, st.InsertInstance(ctx, testInstance("i1", "alice", 1)))
	err := st.InsertInstance(ctx, testInstance("i1", "bob", 1))
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestInstancesByOwnerNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSpecies(t, st, testSpecies(1, "france", true))

	base := time.Now().UTC()
	for i, id := range []string{"i1", "i2", "i3"} {
		inst := testInstance(id, "alice", 1)
		inst.CaughtAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.InsertInstance(ctx, inst))
	}

	got, err := st.InstancesByOwner(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "i3", got[0].Id)
	require.Equal(t, "i2", got[1].Id)
}

func TestRemoveInstance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSpecies(t, st, testSpecies(1, "france", true))
	require.NoError(t, st.InsertInstance(ctx, testInstance("i1", "alice", 1)))

	require.ErrorIs(t, st.RemoveInstance(ctx, "bob", "i1"), ErrNotOwned)
	require.ErrorIs(t, st.RemoveInstance(ctx, "alice", "missing"), ErrNotOwned)

	require.NoError(t, st.RemoveInstance(ctx, "alice", "i1"))
	_, err := st.InstanceById(ctx, "i1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveInstanceLocked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedSpecies(t, st, testSpecies(1, "france", true))
	require.NoError(t, st.InsertInstance(ctx, testInstance("i1", "alice", 1)))

	now := time.Now().UTC()
	require.NoError(t, st.CreateTrade(ctx, "t1", []string{"alice", "bob"}, now))
	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "i1", now))

	require.ErrorIs(t, st.RemoveInstance(ctx, "alice", "i1"), ErrAlreadyLocked)

	require.NoError(t, st.CancelTrade(ctx, "t1", now))
	require.NoError(t, st.RemoveInstance(ctx, "alice", "i1"))
}
