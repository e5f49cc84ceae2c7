package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureAccount creates the ledger row for a user if it does not exist.
func (s *SQLite) EnsureAccount(ctx context.Context, userId string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id) VALUES (?)`, userId)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// Account reads one ledger row.
func (s *SQLite) Account(ctx context.Context, userId string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, last_catch_at, last_trade_at
		FROM accounts
		WHERE user_id = ?
	`, userId)

	var a Account
	var catchMs, tradeMs int64
	if err := row.Scan(&a.UserId, &a.Balance, &catchMs, &tradeMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	a.LastCatchAt = fromMillis(catchMs)
	a.LastTradeAt = fromMillis(tradeMs)
	return a, nil
}

// Credit adds amount coins to a user's balance, creating the account on
// first touch. Amount must be positive.
func (s *SQLite) Credit(ctx context.Context, userId string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return creditTx(ctx, tx, userId, amount)
	})
}

// Debit removes amount coins. The balance >= amount guard in the UPDATE
// makes the race-free check: zero affected rows means insufficient
// funds, and the CHECK constraint backs it up against external writers.
func (s *SQLite) Debit(ctx context.Context, userId string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - ?
		WHERE user_id = ? AND balance >= ?
	`, amount, userId, amount)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func creditTx(ctx context.Context, tx *sql.Tx, userId string, amount int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id) VALUES (?)`, userId); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ? WHERE user_id = ?`,
		amount, userId); err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

func stampLastTradeTx(ctx context.Context, tx *sql.Tx, userId string, at time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id) VALUES (?)`, userId); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET last_trade_at = ? WHERE user_id = ?`,
		toMillis(at), userId)
	return err
}
