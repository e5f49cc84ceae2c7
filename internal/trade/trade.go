// Package trade runs the two-party negotiation state machine. Sessions
// move Negotiating -> Confirmed -> Completed, or to Cancelled from any
// live state. Offered instances carry a store-level trade lock for the
// whole life of the session, and the final swap is one durable
// transaction: there is no observable state where an instance is
// unlocked but unswapped, or swapped but still locked.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aram-Development/Nationdex/internal/metrics"
	"github.com/Aram-Development/Nationdex/internal/store"
)

var (
	// ErrEmptyTrade is returned by Confirm when nothing is offered at
	// all, or when a side offers nothing and gifting is disabled.
	ErrEmptyTrade = errors.New("nothing offered")

	// ErrSelfTrade is returned by Begin when a user trades with
	// themselves.
	ErrSelfTrade = errors.New("cannot trade with yourself")

	// ErrBusy is returned by Begin when a participant already has an
	// open session.
	ErrBusy = errors.New("participant already in a trade")
)

// Options is the trade configuration, read per call for hot reload.
type Options struct {
	Timeout    time.Duration
	AllowGifts bool
}

// Store is the slice of the persistence gateway the orchestrator needs.
type Store interface {
	CreateTrade(ctx context.Context, id string, participants []string, now time.Time) error
	TradeById(ctx context.Context, id string) (store.Trade, error)
	OpenTradeForUser(ctx context.Context, userId string) (store.Trade, error)
	AddTradeOffer(ctx context.Context, tradeId, userId, instanceId string, now time.Time) error
	RemoveTradeOffer(ctx context.Context, tradeId, userId, instanceId string, now time.Time) error
	ConfirmTrade(ctx context.Context, tradeId, userId string, now time.Time) (bool, error)
	CompleteTrade(ctx context.Context, tradeId string, now time.Time) error
	CancelTrade(ctx context.Context, tradeId string, now time.Time) error
	IdleTradeIds(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Orchestrator struct {
	store   Store
	options func() Options
	log     *slog.Logger
	met     *metrics.Metrics
}

func New(st Store, options func() Options, log *slog.Logger, met *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{store: st, options: options, log: log, met: met}
}

// Begin opens a session between two users. Each user can hold one open
// session at a time.
func (o *Orchestrator) Begin(ctx context.Context, a, b string, now time.Time) (store.Trade, error) {
	if a == b {
		return store.Trade{}, ErrSelfTrade
	}
	for _, u := range []string{a, b} {
		if _, err := o.store.OpenTradeForUser(ctx, u); err == nil {
			return store.Trade{}, fmt.Errorf("user %s: %w", u, ErrBusy)
		} else if !errors.Is(err, store.ErrNotFound) {
			return store.Trade{}, fmt.Errorf("check open trades: %w", err)
		}
	}

	id := uuid.NewString()
	if err := o.store.CreateTrade(ctx, id, []string{a, b}, now); err != nil {
		return store.Trade{}, fmt.Errorf("create trade: %w", err)
	}

	o.met.TradeOpened()
	o.log.Info("trade opened", "trade", id, "users", []string{a, b})
	return o.store.TradeById(ctx, id)
}

// AddOffer locks the instance into the session. Any established
// confirmations are reset.
func (o *Orchestrator) AddOffer(ctx context.Context, tradeId, userId, instanceId string, now time.Time) error {
	if err := o.store.AddTradeOffer(ctx, tradeId, userId, instanceId, now); err != nil {
		return fmt.Errorf("add offer: %w", err)
	}
	o.log.Info("offer added", "trade", tradeId, "user", userId, "instance", instanceId)
	return nil
}

// RemoveOffer withdraws an offer and releases its lock. Confirmations
// are reset.
func (o *Orchestrator) RemoveOffer(ctx context.Context, tradeId, userId, instanceId string, now time.Time) error {
	if err := o.store.RemoveTradeOffer(ctx, tradeId, userId, instanceId, now); err != nil {
		return fmt.Errorf("remove offer: %w", err)
	}
	o.log.Info("offer removed", "trade", tradeId, "user", userId, "instance", instanceId)
	return nil
}

// Confirm records a participant's agreement. Once every participant has
// confirmed, the swap executes immediately and the session completes.
func (o *Orchestrator) Confirm(ctx context.Context, tradeId, userId string, now time.Time) (store.Trade, error) {
	t, err := o.store.TradeById(ctx, tradeId)
	if err != nil {
		return store.Trade{}, err
	}
	if t.State.Terminal() {
		return t, store.ErrTradeClosed
	}
	// an all-empty trade never completes; with gifting disabled every
	// side must offer something
	if len(t.Offers) == 0 {
		return t, ErrEmptyTrade
	}
	if !o.options().AllowGifts {
		offered := map[string]bool{}
		for _, of := range t.Offers {
			offered[of.UserId] = true
		}
		for _, p := range t.Participants {
			if !offered[p.UserId] {
				return t, ErrEmptyTrade
			}
		}
	}

	all, err := o.store.ConfirmTrade(ctx, tradeId, userId, now)
	if err != nil {
		return store.Trade{}, fmt.Errorf("confirm: %w", err)
	}
	if !all {
		return o.store.TradeById(ctx, tradeId)
	}

	if err := o.store.CompleteTrade(ctx, tradeId, now); err != nil {
		// a racing offer change can demote the session back to
		// negotiating between our confirm and the completion
		if errors.Is(err, store.ErrTradeNotConfirmed) {
			return o.store.TradeById(ctx, tradeId)
		}
		if errors.Is(err, store.ErrOwnershipConflict) {
			// an external writer broke an offered instance; the trade
			// cannot complete safely
			if cerr := o.store.CancelTrade(ctx, tradeId, now); cerr != nil {
				o.log.Error("failed to cancel conflicted trade", "trade", tradeId, "err", cerr)
			}
			o.met.TradeClosed(store.TradeCancelled.String())
			return store.Trade{}, err
		}
		return store.Trade{}, fmt.Errorf("complete: %w", err)
	}

	o.met.TradeClosed(store.TradeCompleted.String())
	o.log.Info("trade completed", "trade", tradeId)
	return o.store.TradeById(ctx, tradeId)
}

// Cancel aborts the session and releases every trade lock. No ownership
// changes.
func (o *Orchestrator) Cancel(ctx context.Context, tradeId, userId string, now time.Time) error {
	t, err := o.store.TradeById(ctx, tradeId)
	if err != nil {
		return err
	}
	if !isParticipant(t, userId) {
		return store.ErrNotParticipant
	}
	if err := o.store.CancelTrade(ctx, tradeId, now); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	o.met.TradeClosed(store.TradeCancelled.String())
	o.log.Info("trade cancelled", "trade", tradeId, "by", userId)
	return nil
}

// Session loads a session.
func (o *Orchestrator) Session(ctx context.Context, tradeId string) (store.Trade, error) {
	return o.store.TradeById(ctx, tradeId)
}

// SessionFor finds a user's open session.
func (o *Orchestrator) SessionFor(ctx context.Context, userId string) (store.Trade, error) {
	return o.store.OpenTradeForUser(ctx, userId)
}

// RunJanitor cancels idle sessions until ctx is cancelled. A session is
// idle when it has seen no state change for the configured timeout; all
// its locks are released so instances become tradeable again.
func (o *Orchestrator) RunJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			o.sweepIdle(ctx, now)
		}
	}
}

func (o *Orchestrator) sweepIdle(ctx context.Context, now time.Time) {
	cutoff := now.Add(-o.options().Timeout)
	ids, err := o.store.IdleTradeIds(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			o.met.StoreError()
			o.log.Error("idle trade sweep failed", "err", err)
		}
		return
	}
	for _, id := range ids {
		if err := o.store.CancelTrade(ctx, id, now); err != nil {
			if !errors.Is(err, store.ErrTradeClosed) {
				o.log.Error("failed to cancel idle trade", "trade", id, "err", err)
			}
			continue
		}
		o.met.TradeClosed(store.TradeCancelled.String())
		o.log.Info("trade timed out", "trade", id)
	}
}

func isParticipant(t store.Trade, userId string) bool {
	for _, p := range t.Participants {
		if p.UserId == userId {
			return true
		}
	}
	return false
}
