package promocode

import (
	"context"
	mrand "math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLite) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertSpecies(ctx, species.Definition{
		Id: 1, Key: "france", Name: "France", Weight: 1,
		MinAttack: -20, MaxAttack: 20, MinHealth: -20, MaxHealth: 20, Enabled: true,
	}))
	require.NoError(t, st.UpsertSpecies(ctx, species.Definition{
		Id: 2, Key: "germany", Name: "Germany", Weight: 1, Enabled: false,
	}))

	return New(st, mrand.New(mrand.NewSource(42)), nil, nil), st
}

func TestCanonicalCode(t *testing.T) {
	got, err := CanonicalCode("  launch-2026 ")
	require.NoError(t, err)
	require.Equal(t, "LAUNCH-2026", got)

	for _, bad := range []string{"", "ab", "has space", "emoji🎉", "a!b"} {
		_, err := CanonicalCode(bad)
		require.ErrorIs(t, err, ErrBadCode, "input %q", bad)
	}
}

func TestRedeemGrantsInstanceAndCredits(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "launch", ExpiresAt: now.Add(time.Hour), UsesLeft: 10,
		RewardSpeciesId: 1, RewardCredits: 50,
	}))

	inst, credits, err := s.Redeem(ctx, "alice", "Launch", now)
	require.NoError(t, err)
	require.Equal(t, int64(50), credits)
	require.NotNil(t, inst)
	require.Equal(t, species.Id(1), inst.SpeciesId)
	require.Equal(t, "alice", inst.OwnerId)

	acct, err := st.Account(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(50), acct.Balance)

	got, err := st.InstanceById(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, "alice", got.OwnerId)
}

func TestRedeemRandomSpeciesDrawsEnabledOnly(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "random", ExpiresAt: now.Add(time.Hour), UsesLeft: 20, MaxUsesPerUser: 20,
	}))

	for i := 0; i < 10; i++ {
		inst, _, err := s.Redeem(ctx, "alice", "random", now)
		require.NoError(t, err)
		require.NotNil(t, inst)
		require.Equal(t, species.Id(1), inst.SpeciesId, "disabled species must never be drawn")
	}
}

func TestRedeemDisabledRewardSpeciesFallsBackToCoins(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "dead", ExpiresAt: now.Add(time.Hour), UsesLeft: 5,
		RewardSpeciesId: 2, RewardCredits: 30,
	}))

	inst, credits, err := s.Redeem(ctx, "alice", "dead", now)
	require.NoError(t, err)
	require.Nil(t, inst)
	require.Equal(t, int64(30), credits)

	acct, err := st.Account(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(30), acct.Balance)
}

func TestRedeemLimits(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "twice", ExpiresAt: now.Add(time.Hour), UsesLeft: 2, RewardCredits: 5,
	}))

	_, _, err := s.Redeem(ctx, "alice", "twice", now)
	require.NoError(t, err)
	_, _, err = s.Redeem(ctx, "alice", "twice", now)
	require.ErrorIs(t, err, store.ErrAlreadyRedeemed)

	_, _, err = s.Redeem(ctx, "bob", "twice", now)
	require.NoError(t, err)
	_, _, err = s.Redeem(ctx, "carol", "twice", now)
	require.ErrorIs(t, err, store.ErrCodeDepleted)
}

func TestRedeemRejects(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := s.Redeem(ctx, "alice", "no such code", now)
	require.ErrorIs(t, err, ErrBadCode)

	_, _, err = s.Redeem(ctx, "alice", "MISSING", now)
	require.ErrorIs(t, err, store.ErrUnknownCode)

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "old", ExpiresAt: now.Add(-time.Minute), UsesLeft: 5,
	}))
	_, _, err = s.Redeem(ctx, "alice", "old", now)
	require.ErrorIs(t, err, store.ErrCodeExpired)
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Create(ctx, store.Promocode{Code: "x", ExpiresAt: now, UsesLeft: 1})
	require.ErrorIs(t, err, ErrBadCode)

	err = s.Create(ctx, store.Promocode{Code: "valid", ExpiresAt: now, UsesLeft: 0})
	require.Error(t, err)

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "valid", ExpiresAt: now.Add(time.Hour), UsesLeft: 1,
	}))
	err = s.Create(ctx, store.Promocode{
		Code: "VALID", ExpiresAt: now.Add(time.Hour), UsesLeft: 1,
	})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestArchiveAndCleanExpired(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "old", ExpiresAt: now.Add(-time.Hour), UsesLeft: 5,
	}))
	require.NoError(t, s.Create(ctx, store.Promocode{
		Code: "fresh", ExpiresAt: now.Add(time.Hour), UsesLeft: 5,
	}))

	n, err := s.CleanExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	live, err := s.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "FRESH", live[0].Code)

	require.NoError(t, s.Archive(ctx, "fresh"))
	live, err = s.List(ctx, false)
	require.NoError(t, err)
	require.Empty(t, live)
}
