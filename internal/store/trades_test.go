package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTradeFixture(t *testing.T, st *SQLite) time.Time {
	t.Helper()
	ctx := context.Background()
	seedSpecies(t, st, testSpecies(1, "france", true))
	require.NoError(t, st.InsertInstance(ctx, testInstance("ia", "alice", 1)))
	require.NoError(t, st.InsertInstance(ctx, testInstance("ib", "bob", 1)))
	now := time.Now().UTC()
	require.NoError(t, st.CreateTrade(ctx, "t1", []string{"alice", "bob"}, now))
	return now
}

func TestTradeHappyPathSwap(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now))
	require.NoError(t, st.AddTradeOffer(ctx, "t1", "bob", "ib", now))

	// both instances are locked by the session
	ia, err := st.InstanceById(ctx, "ia")
	require.NoError(t, err)
	require.Equal(t, "t1", ia.LockedBy)

	all, err := st.ConfirmTrade(ctx, "t1", "alice", now)
	require.NoError(t, err)
	require.False(t, all)

	all, err = st.ConfirmTrade(ctx, "t1", "bob", now)
	require.NoError(t, err)
	require.True(t, all)

	tr, err := st.TradeById(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TradeConfirmed, tr.State)

	require.NoError(t, st.CompleteTrade(ctx, "t1", now))

	tr, err = st.TradeById(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TradeCompleted, tr.State)

	ia, err = st.InstanceById(ctx, "ia")
	require.NoError(t, err)
	require.Equal(t, "bob", ia.OwnerId)
	require.Empty(t, ia.LockedBy)

	ib, err := st.InstanceById(ctx, "ib")
	require.NoError(t, err)
	require.Equal(t, "alice", ib.OwnerId)
	require.Empty(t, ib.LockedBy)

	// completion stamps the participants' trade timestamps
	acct, err := st.Account(ctx, "alice")
	require.NoError(t, err)
	require.False(t, acct.LastTradeAt.IsZero())

	// the swapped instance can be offered again in a later session
	require.NoError(t, st.CreateTrade(ctx, "t2", []string{"bob", "carol"}, now))
	require.NoError(t, st.AddTradeOffer(ctx, "t2", "bob", "ia", now))
	ia, err = st.InstanceById(ctx, "ia")
	require.NoError(t, err)
	require.Equal(t, "t2", ia.LockedBy)
}

func TestAddTradeOfferChecks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	// not the owner
	require.ErrorIs(t, st.AddTradeOffer(ctx, "t1", "alice", "ib", now), ErrNotOwned)
	// unknown instance
	require.ErrorIs(t, st.AddTradeOffer(ctx, "t1", "alice", "nope", now), ErrNotFound)
	// outsider
	require.ErrorIs(t, st.AddTradeOffer(ctx, "t1", "mallory", "ia", now), ErrNotParticipant)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now))
	// offering the same instance twice
	require.ErrorIs(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now), ErrDuplicate)

	// the lock keeps the instance out of a second session
	require.NoError(t, st.CreateTrade(ctx, "t2", []string{"alice", "carol"}, now))
	require.ErrorIs(t, st.AddTradeOffer(ctx, "t2", "alice", "ia", now), ErrAlreadyLocked)
}

func TestOfferChangeResetsConfirmations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now))
	all, err := st.ConfirmTrade(ctx, "t1", "alice", now)
	require.NoError(t, err)
	require.False(t, all)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "bob", "ib", now))

	tr, err := st.TradeById(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TradeNegotiating, tr.State)
	for _, p := range tr.Participants {
		require.False(t, p.Confirmed, "offer change should reset %s", p.UserId)
	}
}

func TestRemoveTradeOfferReleasesLock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now))
	require.NoError(t, st.RemoveTradeOffer(ctx, "t1", "alice", "ia", now))

	ia, err := st.InstanceById(ctx, "ia")
	require.NoError(t, err)
	require.Empty(t, ia.LockedBy)

	require.ErrorIs(t, st.RemoveTradeOffer(ctx, "t1", "alice", "ia", now), ErrNotFound)
}

func TestCompleteTradeRequiresConfirmed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	require.ErrorIs(t, st.CompleteTrade(ctx, "t1", now), ErrTradeNotConfirmed)
}

func TestCompleteTradeOwnershipConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now))
	_, err := st.ConfirmTrade(ctx, "t1", "alice", now)
	require.NoError(t, err)
	_, err = st.ConfirmTrade(ctx, "t1", "bob", now)
	require.NoError(t, err)

	// simulate an external writer breaking the offered instance
	_, err = st.db.Exec(`UPDATE instances SET owner_id = 'mallory', locked_by = '' WHERE id = 'ia'`)
	require.NoError(t, err)

	require.ErrorIs(t, st.CompleteTrade(ctx, "t1", now), ErrOwnershipConflict)

	// nothing was swapped
	ib, err := st.InstanceById(ctx, "ib")
	require.NoError(t, err)
	require.Equal(t, "bob", ib.OwnerId)
}

func TestCancelTradeReleasesAllLocks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now))
	require.NoError(t, st.AddTradeOffer(ctx, "t1", "bob", "ib", now))
	require.NoError(t, st.CancelTrade(ctx, "t1", now))

	tr, err := st.TradeById(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TradeCancelled, tr.State)

	for _, id := range []string{"ia", "ib"} {
		inst, err := st.InstanceById(ctx, id)
		require.NoError(t, err)
		require.Empty(t, inst.LockedBy)
	}

	require.ErrorIs(t, st.CancelTrade(ctx, "t1", now), ErrTradeClosed)
	// operations on a closed session fail
	require.ErrorIs(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", now), ErrTradeClosed)
	_, err = st.ConfirmTrade(ctx, "t1", "alice", now)
	require.ErrorIs(t, err, ErrTradeClosed)

	// cancelled offers leave no residue: a fresh session locks the
	// same instances without conflict
	require.NoError(t, st.CreateTrade(ctx, "t2", []string{"alice", "bob"}, now))
	require.NoError(t, st.AddTradeOffer(ctx, "t2", "alice", "ia", now))
	require.NoError(t, st.AddTradeOffer(ctx, "t2", "bob", "ib", now))
}

func TestOpenTradeForUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	tr, err := st.OpenTradeForUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "t1", tr.Id)

	_, err = st.OpenTradeForUser(ctx, "mallory")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.CancelTrade(ctx, "t1", now))
	_, err = st.OpenTradeForUser(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIdleTradeIds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := setupTradeFixture(t, st)

	ids, err := st.IdleTradeIds(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = st.IdleTradeIds(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ids)

	// activity pushes updated_at forward
	later := now.Add(10 * time.Minute)
	require.NoError(t, st.AddTradeOffer(ctx, "t1", "alice", "ia", later))
	ids, err = st.IdleTradeIds(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, ids)
}
