package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Aram-Development/Nationdex/internal/species"
)

// InsertInstance mints an owned instance outside of spawn resolution
// (promo code rewards, admin grants). The owner's account row is created
// in the same transaction.
func (s *SQLite) InsertInstance(ctx context.Context, inst Instance) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertInstanceTx(ctx, tx, inst)
	})
}

// InstanceById reads one instance.
func (s *SQLite) InstanceById(ctx context.Context, id string) (Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, species_id, owner_id, attack, health, caught_at, locked_by
		FROM instances
		WHERE id = ?
	`, id)
	return scanInstance(row)
}

// InstancesByOwner lists a user's collection, newest first.
func (s *SQLite) InstancesByOwner(ctx context.Context, ownerId string, limit int) ([]Instance, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, species_id, owner_id, attack, health, caught_at, locked_by
		FROM instances
		WHERE owner_id = ?
		ORDER BY caught_at DESC, id DESC
		LIMIT ?
	`, ownerId, limit)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// RemoveInstance deletes an instance from a user's collection. Locked
// instances cannot be removed while a trade session holds them.
func (s *SQLite) RemoveInstance(ctx context.Context, ownerId, instanceId string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner, lockedBy string
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id, locked_by FROM instances WHERE id = ?`,
			instanceId).Scan(&owner, &lockedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotOwned
		}
		if err != nil {
			return fmt.Errorf("query instance: %w", err)
		}
		if owner != ownerId {
			return ErrNotOwned
		}
		if lockedBy != "" {
			return ErrAlreadyLocked
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, instanceId)
		if err != nil {
			return fmt.Errorf("delete instance: %w", err)
		}
		return nil
	})
}

func insertInstanceTx(ctx context.Context, tx *sql.Tx, inst Instance) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id) VALUES (?)`, inst.OwnerId); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO instances (id, species_id, owner_id, attack, health, caught_at, locked_by)
		VALUES (?,?,?,?,?,?,'')
	`, inst.Id, int64(inst.SpeciesId), inst.OwnerId, inst.Attack, inst.Health, toMillis(inst.CaughtAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("instance %s: %w", inst.Id, ErrDuplicate)
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func scanInstance(r rowScanner) (Instance, error) {
	var inst Instance
	var speciesId, caughtMs int64
	err := r.Scan(&inst.Id, &speciesId, &inst.OwnerId, &inst.Attack, &inst.Health, &caughtMs, &inst.LockedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	if err != nil {
		return Instance{}, fmt.Errorf("scan instance: %w", err)
	}
	inst.SpeciesId = species.Id(speciesId)
	inst.CaughtAt = fromMillis(caughtMs)
	return inst, nil
}
