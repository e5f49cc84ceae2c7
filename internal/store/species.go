package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Aram-Development/Nationdex/internal/species"
)

// EnabledSpecies returns the current enabled definitions, aliases
// included. Callers re-read on every spawn decision so admin edits take
// effect without a restart.
func (s *SQLite) EnabledSpecies(ctx context.Context) ([]species.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, name, weight, min_attack, max_attack, min_health, max_health, enabled
		FROM species
		WHERE enabled = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query species: %w", err)
	}
	defer rows.Close()

	var defs []species.Definition
	byId := map[species.Id]int{}
	for rows.Next() {
		var d species.Definition
		if err := scanSpecies(rows, &d); err != nil {
			return nil, err
		}
		byId[d.Id] = len(defs)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachAliases(ctx, defs, byId); err != nil {
		return nil, err
	}
	return defs, nil
}

// SpeciesById re-validates a single definition at use time.
func (s *SQLite) SpeciesById(ctx context.Context, id species.Id) (species.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key, name, weight, min_attack, max_attack, min_health, max_health, enabled
		FROM species
		WHERE id = ?
	`, int64(id))

	var d species.Definition
	if err := scanSpecies(row, &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return species.Definition{}, ErrNotFound
		}
		return species.Definition{}, err
	}

	defs := []species.Definition{d}
	if err := s.attachAliases(ctx, defs, map[species.Id]int{d.Id: 0}); err != nil {
		return species.Definition{}, err
	}
	return defs[0], nil
}

// UpsertSpecies inserts or replaces a definition and its aliases. Used
// by the seed command and tests; the admin panel edits rows directly.
func (s *SQLite) UpsertSpecies(ctx context.Context, d species.Definition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO species (id, key, name, weight, min_attack, max_attack, min_health, max_health, enabled)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				key = excluded.key,
				name = excluded.name,
				weight = excluded.weight,
				min_attack = excluded.min_attack,
				max_attack = excluded.max_attack,
				min_health = excluded.min_health,
				max_health = excluded.max_health,
				enabled = excluded.enabled
		`, int64(d.Id), d.Key, d.Name, d.Weight,
			d.MinAttack, d.MaxAttack, d.MinHealth, d.MaxHealth, boolToInt(d.Enabled))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("species key %q: %w", d.Key, ErrDuplicate)
			}
			return fmt.Errorf("upsert species: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM species_aliases WHERE species_id = ?`, int64(d.Id)); err != nil {
			return fmt.Errorf("clear aliases: %w", err)
		}
		for _, alias := range d.Aliases {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO species_aliases (species_id, alias) VALUES (?,?)`,
				int64(d.Id), alias); err != nil {
				return fmt.Errorf("insert alias: %w", err)
			}
		}
		return nil
	})
}

// SetSpeciesEnabled flips the enabled flag.
func (s *SQLite) SetSpeciesEnabled(ctx context.Context, id species.Id, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE species SET enabled = ? WHERE id = ?`, boolToInt(enabled), int64(id))
	if err != nil {
		return fmt.Errorf("set species enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) attachAliases(ctx context.Context, defs []species.Definition, byId map[species.Id]int) error {
	if len(defs) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT species_id, alias FROM species_aliases ORDER BY species_id, alias`)
	if err != nil {
		return fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return err
		}
		if idx, ok := byId[species.Id(id)]; ok {
			defs[idx].Aliases = append(defs[idx].Aliases, alias)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpecies(r rowScanner, d *species.Definition) error {
	var id int64
	var enabled int
	if err := r.Scan(&id, &d.Key, &d.Name, &d.Weight,
		&d.MinAttack, &d.MaxAttack, &d.MinHealth, &d.MaxHealth, &enabled); err != nil {
		return err
	}
	d.Id = species.Id(id)
	d.Enabled = enabled != 0
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
