package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Aram-Development/Nationdex/internal/species"
)

// InsertSpawn persists a spawn after its announcement was posted. A
// failed post never reaches this point, so no partial spawn rows exist.
func (s *SQLite) InsertSpawn(ctx context.Context, sp Spawn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spawns (id, species_id, guild_id, channel_id, message_id, spawned_at, expires_at, state)
		VALUES (?,?,?,?,?,?,?,0)
	`, sp.Id, int64(sp.SpeciesId), sp.GuildId, sp.ChannelId, sp.MessageId,
		toMillis(sp.SpawnedAt), toMillis(sp.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("spawn %s: %w", sp.Id, ErrDuplicate)
		}
		return fmt.Errorf("insert spawn: %w", err)
	}
	return nil
}

// SpawnById reads one spawn.
func (s *SQLite) SpawnById(ctx context.Context, id string) (Spawn, error) {
	row := s.db.QueryRowContext(ctx, spawnSelect+` WHERE id = ?`, id)
	return scanSpawn(row)
}

// PendingSpawnInChannel returns the most recent unresolved spawn in a
// channel, or ErrNotFound.
func (s *SQLite) PendingSpawnInChannel(ctx context.Context, channelId string) (Spawn, error) {
	row := s.db.QueryRowContext(ctx,
		spawnSelect+` WHERE channel_id = ? AND state = 0 ORDER BY spawned_at DESC, id DESC LIMIT 1`,
		channelId)
	return scanSpawn(row)
}

// ResolveSpawnCaught is the single-winner resolution: compare-and-set on
// the spawn state, mint of the new instance, and the catcher's cooldown
// stamp, all in one transaction. Exactly one concurrent caller succeeds;
// the rest get ErrAlreadyResolved.
func (s *SQLite) ResolveSpawnCaught(ctx context.Context, spawnId string, inst Instance, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state int
		var speciesId int64
		err := tx.QueryRowContext(ctx,
			`SELECT state, species_id FROM spawns WHERE id = ?`, spawnId).
			Scan(&state, &speciesId)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query spawn: %w", err)
		}
		if SpawnState(state) != SpawnPending {
			return ErrAlreadyResolved
		}

		// Re-validate the species at use time: an admin may have
		// disabled or deleted it mid-spawn. The spawn is retired as
		// expired instead of minting.
		var enabled int
		err = tx.QueryRowContext(ctx,
			`SELECT enabled FROM species WHERE id = ?`, speciesId).Scan(&enabled)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && enabled == 0) {
			if _, uerr := tx.ExecContext(ctx,
				`UPDATE spawns SET state = 2, resolved_at = ? WHERE id = ? AND state = 0`,
				toMillis(now), spawnId); uerr != nil {
				return fmt.Errorf("expire disabled spawn: %w", uerr)
			}
			return ErrSpeciesDisabled
		}
		if err != nil {
			return fmt.Errorf("query species: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE spawns
			SET state = 1, caught_by = ?, instance_id = ?, resolved_at = ?
			WHERE id = ? AND state = 0
		`, inst.OwnerId, inst.Id, toMillis(now), spawnId)
		if err != nil {
			return fmt.Errorf("resolve spawn: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyResolved
		}

		if err := insertInstanceTx(ctx, tx, inst); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET last_catch_at = ? WHERE user_id = ?`,
			toMillis(now), inst.OwnerId); err != nil {
			return fmt.Errorf("stamp last catch: %w", err)
		}
		return nil
	})
}

// ExpireSpawn retires a pending spawn. Reports whether this call won the
// resolution; a concurrent catch keeps its win.
func (s *SQLite) ExpireSpawn(ctx context.Context, spawnId string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE spawns SET state = 2, resolved_at = ? WHERE id = ? AND state = 0`,
		toMillis(now), spawnId)
	if err != nil {
		return false, fmt.Errorf("expire spawn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpireOverdueSpawns retires every pending spawn past its deadline and
// discards their miss records.
func (s *SQLite) ExpireOverdueSpawns(ctx context.Context, now time.Time) (int64, error) {
	var expired int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE spawns SET state = 2, resolved_at = ? WHERE state = 0 AND expires_at <= ?`,
			toMillis(now), toMillis(now))
		if err != nil {
			return fmt.Errorf("expire overdue spawns: %w", err)
		}
		expired, err = res.RowsAffected()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM spawn_misses
			WHERE spawn_id IN (SELECT id FROM spawns WHERE state != 0)
		`)
		if err != nil {
			return fmt.Errorf("clear miss records: %w", err)
		}
		return nil
	})
	return expired, err
}

// RecordSpawnMiss notes a wrong guess. Reports whether this was the
// user's first miss on the spawn, so repeat wrong guesses are not
// re-penalized.
func (s *SQLite) RecordSpawnMiss(ctx context.Context, spawnId, userId string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO spawn_misses (spawn_id, user_id) VALUES (?,?)`,
		spawnId, userId)
	if err != nil {
		return false, fmt.Errorf("record miss: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastCatchInChannel returns when the user last caught a spawn in the
// channel; the zero time when they never have. Drives the per-channel
// catch cooldown, which survives restarts because it derives from
// resolved spawn rows.
func (s *SQLite) LastCatchInChannel(ctx context.Context, userId, channelId string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(resolved_at) FROM spawns
		WHERE caught_by = ? AND channel_id = ? AND state = 1
	`, userId, channelId).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last catch: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return fromMillis(ms.Int64), nil
}

const spawnSelect = `
	SELECT id, species_id, guild_id, channel_id, message_id,
	       spawned_at, expires_at, state, caught_by, instance_id, resolved_at
	FROM spawns`

func scanSpawn(r rowScanner) (Spawn, error) {
	var sp Spawn
	var speciesId, spawnedMs, expiresMs, resolvedMs int64
	var state int
	err := r.Scan(&sp.Id, &speciesId, &sp.GuildId, &sp.ChannelId, &sp.MessageId,
		&spawnedMs, &expiresMs, &state, &sp.CaughtBy, &sp.InstanceId, &resolvedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Spawn{}, ErrNotFound
	}
	if err != nil {
		return Spawn{}, fmt.Errorf("scan spawn: %w", err)
	}
	sp.SpeciesId = species.Id(speciesId)
	sp.SpawnedAt = fromMillis(spawnedMs)
	sp.ExpiresAt = fromMillis(expiresMs)
	sp.State = SpawnState(state)
	sp.ResolvedAt = fromMillis(resolvedMs)
	return sp, nil
}
