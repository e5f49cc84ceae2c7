package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aram-Development/Nationdex/internal/species"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedSpecies(t *testing.T, st *SQLite, defs ...species.Definition) {
	t.Helper()
	ctx := context.Background()
	for _, d := range defs {
		require.NoError(t, st.UpsertSpecies(ctx, d))
	}
}

func testSpecies(id int64, key string, enabled bool) species.Definition {
	return species.Definition{
		Id:        species.Id(id),
		Key:       key,
		Name:      key,
		Weight:    1,
		MinAttack: -20,
		MaxAttack: 20,
		MinHealth: -20,
		MaxHealth: 20,
		Enabled:   enabled,
	}
}

func testInstance(id, owner string, speciesId int64) Instance {
	return Instance{
		Id:        id,
		SpeciesId: species.Id(speciesId),
		OwnerId:   owner,
		Attack:    5,
		Health:    -3,
		CaughtAt:  time.Now().UTC(),
	}
}

func TestSpeciesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	def := testSpecies(1, "france", true)
	def.Name = "France"
	def.Aliases = []string{"FR", "Republique Francaise"}
	seedSpecies(t, st, def, testSpecies(2, "germany", false))

	got, err := st.SpeciesById(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "France", got.Name)
	require.Equal(t, []string{"FR", "Republique Francaise"}, got.Aliases)

	enabled, err := st.EnabledSpecies(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	require.Equal(t, "france", enabled[0].Key)

	require.NoError(t, st.SetSpeciesEnabled(ctx, 2, true))
	enabled, err = st.EnabledSpecies(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
}

func TestUpsertSpeciesReplacesAliases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	def := testSpecies(1, "spain", true)
	def.Aliases = []string{"ES"}
	seedSpecies(t, st, def)

	def.Aliases = []string{"Espana"}
	require.NoError(t, st.UpsertSpecies(ctx, def))

	got, err := st.SpeciesById(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Espana"}, got.Aliases)
}

func TestSpeciesByIdNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.SpeciesById(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}
