// Package store is the persistence gateway. Every durable entity the bot
// mutates lives here, and every multi-row mutation happens inside a single
// SQLite transaction. The Django admin panel writes the same database file
// from a second process, so single-winner operations (spawn resolution,
// trade-lock acquisition) are compare-and-set statements at the SQL level,
// never in-memory locks.
package store

import (
	"errors"
	"time"

	"github.com/Aram-Development/Nationdex/internal/species"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("record already exists")

	// ErrInsufficientFunds is returned by Debit when the balance would
	// go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotOwned is returned when an instance does not belong to the
	// acting user.
	ErrNotOwned = errors.New("instance not owned by user")

	// ErrAlreadyLocked is returned when an instance is held by another
	// trade session.
	ErrAlreadyLocked = errors.New("instance locked by another trade")

	// ErrAlreadyResolved is returned when a spawn was already caught or
	// expired.
	ErrAlreadyResolved = errors.New("spawn already resolved")

	// ErrSpeciesDisabled is returned when the spawned species was
	// disabled or deleted by an admin edit between spawn and catch.
	ErrSpeciesDisabled = errors.New("species disabled")

	// ErrNotParticipant is returned when a user acts on a trade they are
	// not part of.
	ErrNotParticipant = errors.New("user is not a trade participant")

	// ErrTradeClosed is returned when a trade session is already in a
	// terminal state.
	ErrTradeClosed = errors.New("trade session closed")

	// ErrTradeNotConfirmed is returned by CompleteTrade when not every
	// participant has confirmed.
	ErrTradeNotConfirmed = errors.New("trade not confirmed by all participants")

	// ErrOwnershipConflict is returned when a trade swap detects that an
	// offered instance changed hands or lost its lock mid-completion.
	ErrOwnershipConflict = errors.New("instance ownership changed during trade")

	// Promo code redemption failures.
	ErrUnknownCode     = errors.New("unknown promo code")
	ErrCodeExpired     = errors.New("promo code expired")
	ErrCodeDepleted    = errors.New("promo code has no uses left")
	ErrAlreadyRedeemed = errors.New("promo code already redeemed by user")
)

// Account is a user's ledger row. Balance is whole coins and can never
// go negative; the table carries a CHECK constraint so not even an
// external writer can break that.
type Account struct {
	UserId      string
	Balance     int64
	LastCatchAt time.Time
	LastTradeAt time.Time
}

// Instance is one owned collectible. Ownership is the owner_id column,
// LockedBy is the id of the trade session currently holding the trade
// lock, empty when unlocked.
type Instance struct {
	Id        string
	SpeciesId species.Id
	OwnerId   string
	Attack    int
	Health    int
	CaughtAt  time.Time
	LockedBy  string
}

type SpawnState int

const (
	SpawnPending SpawnState = iota
	SpawnCaught
	SpawnExpired
)

// Spawn is one time-limited appearance of a species in a channel. It is
// resolved exactly once, to SpawnCaught or SpawnExpired.
type Spawn struct {
	Id         string
	SpeciesId  species.Id
	GuildId    string
	ChannelId  string
	MessageId  string
	SpawnedAt  time.Time
	ExpiresAt  time.Time
	State      SpawnState
	CaughtBy   string
	InstanceId string
	ResolvedAt time.Time
}

type TradeState int

const (
	TradeNegotiating TradeState = iota
	TradeConfirmed
	TradeCompleted
	TradeCancelled
)

func (s TradeState) Terminal() bool { return s == TradeCompleted || s == TradeCancelled }

func (s TradeState) String() string {
	switch s {
	case TradeNegotiating:
		return "negotiating"
	case TradeConfirmed:
		return "confirmed"
	case TradeCompleted:
		return "completed"
	default:
		return "cancelled"
	}
}

type TradeParticipant struct {
	UserId    string
	Confirmed bool
}

type TradeOffer struct {
	UserId     string
	InstanceId string
}

// Trade is one negotiation session. UpdatedAt moves on every state
// change and drives the idle timeout.
type Trade struct {
	Id           string
	State        TradeState
	Participants []TradeParticipant
	Offers       []TradeOffer
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Promocode is a redeemable code granting a species instance and/or
// coins. RewardSpeciesId zero means a random enabled species is drawn at
// redemption time.
type Promocode struct {
	Code            string
	ExpiresAt       time.Time
	UsesLeft        int
	MaxUsesPerUser  int
	RewardSpeciesId species.Id
	RewardCredits   int64
	Archived        bool
	CreatedAt       time.Time
}
