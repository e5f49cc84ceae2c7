package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Aram-Development/Nationdex/internal/species"
)

// InsertPromocode creates a code. ErrDuplicate when it already exists.
func (s *SQLite) InsertPromocode(ctx context.Context, p Promocode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promocodes (code, expires_at, uses_left, max_uses_per_user,
		                        reward_species_id, reward_credits, archived, created_at)
		VALUES (?,?,?,?,?,?,0,?)
	`, p.Code, toMillis(p.ExpiresAt), p.UsesLeft, p.MaxUsesPerUser,
		int64(p.RewardSpeciesId), p.RewardCredits, toMillis(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("promo code %s: %w", p.Code, ErrDuplicate)
		}
		return fmt.Errorf("insert promo code: %w", err)
	}
	return nil
}

// PromocodeByCode reads one code, archived or not.
func (s *SQLite) PromocodeByCode(ctx context.Context, code string) (Promocode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, expires_at, uses_left, max_uses_per_user,
		       reward_species_id, reward_credits, archived, created_at
		FROM promocodes WHERE code = ?
	`, code)
	return scanPromocode(row)
}

// ListPromocodes returns codes, optionally including archived ones.
func (s *SQLite) ListPromocodes(ctx context.Context, includeArchived bool) ([]Promocode, error) {
	q := `
		SELECT code, expires_at, uses_left, max_uses_per_user,
		       reward_species_id, reward_credits, archived, created_at
		FROM promocodes`
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query promo codes: %w", err)
	}
	defer rows.Close()

	var out []Promocode
	for rows.Next() {
		p, err := scanPromocode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddPromocodeUses tops up a code's remaining uses and returns the new
// count.
func (s *SQLite) AddPromocodeUses(ctx context.Context, code string, usesToAdd int) (int, error) {
	var newUses int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE promocodes SET uses_left = uses_left + ? WHERE code = ? AND archived = 0`,
			usesToAdd, code)
		if err != nil {
			return fmt.Errorf("add uses: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrUnknownCode
		}
		return tx.QueryRowContext(ctx,
			`SELECT uses_left FROM promocodes WHERE code = ?`, code).Scan(&newUses)
	})
	return newUses, err
}

// ArchivePromocode soft-deletes a code. Its use history is kept.
func (s *SQLite) ArchivePromocode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE promocodes SET archived = 1 WHERE code = ? AND archived = 0`, code)
	if err != nil {
		return fmt.Errorf("archive promo code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownCode
	}
	return nil
}

// ArchiveExpiredPromocodes archives every live code past its expiry.
func (s *SQLite) ArchiveExpiredPromocodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE promocodes SET archived = 1 WHERE archived = 0 AND expires_at <= ?`,
		toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("archive expired codes: %w", err)
	}
	return res.RowsAffected()
}

// RedeemPromocode validates and consumes one use of a code and applies
// its rewards, all in one transaction. The caller pre-rolls the reward
// instance (species drawn outside the transaction); a nil inst means the
// code grants coins only.
func (s *SQLite) RedeemPromocode(ctx context.Context, code, userId string, now time.Time, inst *Instance, credits int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var expiresMs int64
		var usesLeft, maxPerUser, archived int
		err := tx.QueryRowContext(ctx, `
			SELECT expires_at, uses_left, max_uses_per_user, archived
			FROM promocodes WHERE code = ?
		`, code).Scan(&expiresMs, &usesLeft, &maxPerUser, &archived)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnknownCode
		}
		if err != nil {
			return fmt.Errorf("query promo code: %w", err)
		}
		if archived != 0 {
			return ErrUnknownCode
		}
		if fromMillis(expiresMs).Before(now) {
			return ErrCodeExpired
		}
		if usesLeft <= 0 {
			return ErrCodeDepleted
		}

		var userUses int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM promocode_uses WHERE code = ? AND user_id = ?`,
			code, userId).Scan(&userUses); err != nil {
			return fmt.Errorf("count user uses: %w", err)
		}
		if userUses >= maxPerUser {
			return ErrAlreadyRedeemed
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE promocodes SET uses_left = uses_left - 1 WHERE code = ? AND uses_left > 0`,
			code)
		if err != nil {
			return fmt.Errorf("consume use: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrCodeDepleted
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO promocode_uses (code, user_id, used_at) VALUES (?,?,?)`,
			code, userId, toMillis(now)); err != nil {
			return fmt.Errorf("record use: %w", err)
		}

		if credits > 0 {
			if err := creditTx(ctx, tx, userId, credits); err != nil {
				return err
			}
		}
		if inst != nil {
			if err := insertInstanceTx(ctx, tx, *inst); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanPromocode(r rowScanner) (Promocode, error) {
	var p Promocode
	var expiresMs, createdMs, rewardSpecies int64
	var archived int
	err := r.Scan(&p.Code, &expiresMs, &p.UsesLeft, &p.MaxUsesPerUser,
		&rewardSpecies, &p.RewardCredits, &archived, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Promocode{}, ErrUnknownCode
	}
	if err != nil {
		return Promocode{}, fmt.Errorf("scan promo code: %w", err)
	}
	p.ExpiresAt = fromMillis(expiresMs)
	p.CreatedAt = fromMillis(createdMs)
	p.RewardSpeciesId = species.Id(rewardSpecies)
	p.Archived = archived != 0
	return p, nil
}
