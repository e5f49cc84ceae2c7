// Package ledger is the transactional record of coins and instance
// ownership per user. It is a thin layer over the store: every mutation
// happens inside a store transaction, so a failure rolls back entirely
// and the invariants (balance >= 0, single ownership) hold under
// concurrent use.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aram-Development/Nationdex/internal/store"
)

// Store is the slice of the persistence gateway the ledger needs.
type Store interface {
	EnsureAccount(ctx context.Context, userId string) error
	Account(ctx context.Context, userId string) (store.Account, error)
	Credit(ctx context.Context, userId string, amount int64) error
	Debit(ctx context.Context, userId string, amount int64) error
	InsertInstance(ctx context.Context, inst store.Instance) error
	InstanceById(ctx context.Context, id string) (store.Instance, error)
	InstancesByOwner(ctx context.Context, ownerId string, limit int) ([]store.Instance, error)
	RemoveInstance(ctx context.Context, ownerId, instanceId string) error
}

type Ledger struct {
	store Store
	log   *slog.Logger
}

func New(st Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: st, log: log}
}

// Credit adds coins to a user's balance.
func (l *Ledger) Credit(ctx context.Context, userId string, amount int64) error {
	if err := l.store.Credit(ctx, userId, amount); err != nil {
		return fmt.Errorf("credit %s: %w", userId, err)
	}
	l.log.Info("credited", "user", userId, "amount", amount)
	return nil
}

// Debit removes coins; store.ErrInsufficientFunds when the balance
// would go negative.
func (l *Ledger) Debit(ctx context.Context, userId string, amount int64) error {
	if err := l.store.Debit(ctx, userId, amount); err != nil {
		return fmt.Errorf("debit %s: %w", userId, err)
	}
	l.log.Info("debited", "user", userId, "amount", amount)
	return nil
}

// AddInstance grants an instance to a user.
func (l *Ledger) AddInstance(ctx context.Context, inst store.Instance) error {
	if inst.OwnerId == "" {
		return fmt.Errorf("instance %s has no owner", inst.Id)
	}
	if err := l.store.InsertInstance(ctx, inst); err != nil {
		return fmt.Errorf("add instance %s: %w", inst.Id, err)
	}
	return nil
}

// RemoveInstance takes an instance out of a user's collection;
// store.ErrNotOwned when the user does not hold it.
func (l *Ledger) RemoveInstance(ctx context.Context, userId, instanceId string) error {
	if err := l.store.RemoveInstance(ctx, userId, instanceId); err != nil {
		return fmt.Errorf("remove instance %s: %w", instanceId, err)
	}
	return nil
}

// Account reads a user's balance and cooldown stamps, creating the row
// on first touch.
func (l *Ledger) Account(ctx context.Context, userId string) (store.Account, error) {
	if err := l.store.EnsureAccount(ctx, userId); err != nil {
		return store.Account{}, err
	}
	return l.store.Account(ctx, userId)
}

// Collection lists a user's owned instances.
func (l *Ledger) Collection(ctx context.Context, userId string, limit int) ([]store.Instance, error) {
	return l.store.InstancesByOwner(ctx, userId, limit)
}
