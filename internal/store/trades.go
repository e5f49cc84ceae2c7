package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTrade opens a negotiation session between two participants.
func (s *SQLite) CreateTrade(ctx context.Context, id string, participants []string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trades (id, state, created_at, updated_at) VALUES (?,0,?,?)`,
			id, toMillis(now), toMillis(now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("trade %s: %w", id, ErrDuplicate)
			}
			return fmt.Errorf("insert trade: %w", err)
		}
		for i, userId := range participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO trade_participants (trade_id, user_id, position) VALUES (?,?,?)`,
				id, userId, i); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
}

// TradeById loads a session with its participants and offers.
func (s *SQLite) TradeById(ctx context.Context, id string) (Trade, error) {
	var t Trade
	var createdMs, updatedMs int64
	var state int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, state, created_at, updated_at FROM trades WHERE id = ?`, id).
		Scan(&t.Id, &state, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Trade{}, ErrNotFound
	}
	if err != nil {
		return Trade{}, fmt.Errorf("query trade: %w", err)
	}
	t.State = TradeState(state)
	t.CreatedAt = fromMillis(createdMs)
	t.UpdatedAt = fromMillis(updatedMs)

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, confirmed FROM trade_participants
		WHERE trade_id = ? ORDER BY position
	`, id)
	if err != nil {
		return Trade{}, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p TradeParticipant
		var confirmed int
		if err := rows.Scan(&p.UserId, &confirmed); err != nil {
			return Trade{}, err
		}
		p.Confirmed = confirmed != 0
		t.Participants = append(t.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return Trade{}, err
	}

	offerRows, err := s.db.QueryContext(ctx, `
		SELECT user_id, instance_id FROM trade_offers
		WHERE trade_id = ? ORDER BY instance_id
	`, id)
	if err != nil {
		return Trade{}, fmt.Errorf("query offers: %w", err)
	}
	defer offerRows.Close()
	for offerRows.Next() {
		var o TradeOffer
		if err := offerRows.Scan(&o.UserId, &o.InstanceId); err != nil {
			return Trade{}, err
		}
		t.Offers = append(t.Offers, o)
	}
	return t, offerRows.Err()
}

// OpenTradeForUser finds a user's non-terminal session, if any.
func (s *SQLite) OpenTradeForUser(ctx context.Context, userId string) (Trade, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id FROM trades t
		JOIN trade_participants p ON p.trade_id = t.id
		WHERE p.user_id = ? AND t.state IN (0, 1)
		ORDER BY t.created_at DESC LIMIT 1
	`, userId).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Trade{}, ErrNotFound
	}
	if err != nil {
		return Trade{}, fmt.Errorf("query open trade: %w", err)
	}
	return s.TradeById(ctx, id)
}

// AddTradeOffer acquires the trade lock on an instance and records the
// offer. The lock acquisition is a compare-and-set on locked_by, so an
// instance can never sit in two live sessions. Any offer change resets
// every confirmation and returns the session to negotiation.
func (s *SQLite) AddTradeOffer(ctx context.Context, tradeId, userId, instanceId string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOpenTradeTx(ctx, tx, tradeId, userId); err != nil {
			return err
		}

		var owner, lockedBy string
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id, locked_by FROM instances WHERE id = ?`, instanceId).
			Scan(&owner, &lockedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query instance: %w", err)
		}
		if owner != userId {
			return ErrNotOwned
		}
		if lockedBy == tradeId {
			return fmt.Errorf("offer for %s: %w", instanceId, ErrDuplicate)
		}
		if lockedBy != "" {
			return ErrAlreadyLocked
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE instances SET locked_by = ?
			WHERE id = ? AND owner_id = ? AND locked_by = ''
		`, tradeId, instanceId, userId)
		if err != nil {
			return fmt.Errorf("lock instance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyLocked
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trade_offers (trade_id, user_id, instance_id) VALUES (?,?,?)`,
			tradeId, userId, instanceId); err != nil {
			return fmt.Errorf("insert offer: %w", err)
		}
		return resetConfirmationsTx(ctx, tx, tradeId, now)
	})
}

// RemoveTradeOffer withdraws an offer and releases its lock. Also
// resets confirmations.
func (s *SQLite) RemoveTradeOffer(ctx context.Context, tradeId, userId, instanceId string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOpenTradeTx(ctx, tx, tradeId, userId); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM trade_offers WHERE trade_id = ? AND user_id = ? AND instance_id = ?`,
			tradeId, userId, instanceId)
		if err != nil {
			return fmt.Errorf("delete offer: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE instances SET locked_by = '' WHERE id = ? AND locked_by = ?`,
			instanceId, tradeId); err != nil {
			return fmt.Errorf("unlock instance: %w", err)
		}
		return resetConfirmationsTx(ctx, tx, tradeId, now)
	})
}

// ConfirmTrade records a participant's confirmation. Reports whether
// every participant has now confirmed, which moves the session to the
// confirmed state.
func (s *SQLite) ConfirmTrade(ctx context.Context, tradeId, userId string, now time.Time) (bool, error) {
	var all bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOpenTradeTx(ctx, tx, tradeId, userId); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE trade_participants SET confirmed = 1 WHERE trade_id = ? AND user_id = ?`,
			tradeId, userId); err != nil {
			return fmt.Errorf("confirm: %w", err)
		}

		var unconfirmed int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM trade_participants WHERE trade_id = ? AND confirmed = 0`,
			tradeId).Scan(&unconfirmed); err != nil {
			return fmt.Errorf("count unconfirmed: %w", err)
		}

		all = unconfirmed == 0
		state := 0
		if all {
			state = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE trades SET state = ?, updated_at = ? WHERE id = ?`,
			state, toMillis(now), tradeId); err != nil {
			return fmt.Errorf("update trade state: %w", err)
		}
		return nil
	})
	return all, err
}

// CompleteTrade executes the swap as one durable transaction: every
// offered instance is re-checked to still be owned by its offerer and
// locked by this session, then reassigned to the counterparty with the
// lock cleared. A crash before commit leaves everything locked and
// unswapped; after commit everything is swapped and unlocked. There is
// no intermediate durable state.
func (s *SQLite) CompleteTrade(ctx context.Context, tradeId string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		state, err := tradeStateTx(ctx, tx, tradeId)
		if err != nil {
			return err
		}
		if state.Terminal() {
			return ErrTradeClosed
		}
		if state != TradeConfirmed {
			return ErrTradeNotConfirmed
		}

		var participants []string
		rows, err := tx.QueryContext(ctx,
			`SELECT user_id FROM trade_participants WHERE trade_id = ? ORDER BY position`,
			tradeId)
		if err != nil {
			return fmt.Errorf("query participants: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return err
			}
			participants = append(participants, u)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(participants) != 2 {
			return fmt.Errorf("trade %s has %d participants, want 2", tradeId, len(participants))
		}

		var offers []TradeOffer
		offerRows, err := tx.QueryContext(ctx,
			`SELECT user_id, instance_id FROM trade_offers WHERE trade_id = ?`, tradeId)
		if err != nil {
			return fmt.Errorf("query offers: %w", err)
		}
		for offerRows.Next() {
			var o TradeOffer
			if err := offerRows.Scan(&o.UserId, &o.InstanceId); err != nil {
				offerRows.Close()
				return err
			}
			offers = append(offers, o)
		}
		if err := offerRows.Err(); err != nil {
			offerRows.Close()
			return err
		}
		offerRows.Close()

		for _, o := range offers {
			recipient := participants[0]
			if o.UserId == participants[0] {
				recipient = participants[1]
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE instances SET owner_id = ?, locked_by = ''
				WHERE id = ? AND owner_id = ? AND locked_by = ?
			`, recipient, o.InstanceId, o.UserId, tradeId)
			if err != nil {
				return fmt.Errorf("swap instance %s: %w", o.InstanceId, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return fmt.Errorf("instance %s: %w", o.InstanceId, ErrOwnershipConflict)
			}
		}

		for _, u := range participants {
			if err := stampLastTradeTx(ctx, tx, u, now); err != nil {
				return fmt.Errorf("stamp last trade: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE trades SET state = 2, updated_at = ? WHERE id = ?`,
			toMillis(now), tradeId); err != nil {
			return fmt.Errorf("close trade: %w", err)
		}
		return nil
	})
}

// CancelTrade moves a session to cancelled and releases every lock it
// holds. No ownership changes.
func (s *SQLite) CancelTrade(ctx context.Context, tradeId string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE trades SET state = 3, updated_at = ? WHERE id = ? AND state IN (0, 1)`,
			toMillis(now), tradeId)
		if err != nil {
			return fmt.Errorf("cancel trade: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := tradeStateTx(ctx, tx, tradeId); err != nil {
				return err
			}
			return ErrTradeClosed
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE instances SET locked_by = '' WHERE locked_by = ?`, tradeId); err != nil {
			return fmt.Errorf("release locks: %w", err)
		}
		return nil
	})
}

// IdleTradeIds lists open sessions with no state change since the
// cutoff, for the timeout janitor.
func (s *SQLite) IdleTradeIds(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM trades WHERE state IN (0, 1) AND updated_at < ?`,
		toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query idle trades: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func checkOpenTradeTx(ctx context.Context, tx *sql.Tx, tradeId, userId string) error {
	state, err := tradeStateTx(ctx, tx, tradeId)
	if err != nil {
		return err
	}
	if state.Terminal() {
		return ErrTradeClosed
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM trade_participants WHERE trade_id = ? AND user_id = ?`,
		tradeId, userId).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotParticipant
	}
	if err != nil {
		return fmt.Errorf("query participant: %w", err)
	}
	return nil
}

func tradeStateTx(ctx context.Context, tx *sql.Tx, tradeId string) (TradeState, error) {
	var state int
	err := tx.QueryRowContext(ctx,
		`SELECT state FROM trades WHERE id = ?`, tradeId).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query trade state: %w", err)
	}
	return TradeState(state), nil
}

func resetConfirmationsTx(ctx context.Context, tx *sql.Tx, tradeId string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE trade_participants SET confirmed = 0 WHERE trade_id = ?`, tradeId); err != nil {
		return fmt.Errorf("reset confirmations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE trades SET state = 0, updated_at = ? WHERE id = ?`,
		toMillis(now), tradeId); err != nil {
		return fmt.Errorf("touch trade: %w", err)
	}
	return nil
}
