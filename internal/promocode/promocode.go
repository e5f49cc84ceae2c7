// Package promocode redeems codes for collectible instances and coins.
// Codes carry an expiry, a global use budget and a per-user limit; a
// redemption consumes one use and applies its rewards in a single store
// transaction.
package promocode

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aram-Development/Nationdex/internal/metrics"
	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
)

// ErrBadCode is returned for input that is not a well-formed code.
var ErrBadCode = errors.New("malformed promo code")

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,50}$`)

// Store is the slice of the persistence gateway the service needs.
type Store interface {
	InsertPromocode(ctx context.Context, p store.Promocode) error
	PromocodeByCode(ctx context.Context, code string) (store.Promocode, error)
	ListPromocodes(ctx context.Context, includeArchived bool) ([]store.Promocode, error)
	AddPromocodeUses(ctx context.Context, code string, usesToAdd int) (int, error)
	ArchivePromocode(ctx context.Context, code string) error
	ArchiveExpiredPromocodes(ctx context.Context, now time.Time) (int64, error)
	RedeemPromocode(ctx context.Context, code, userId string, now time.Time, inst *store.Instance, credits int64) error
	EnabledSpecies(ctx context.Context) ([]species.Definition, error)
	SpeciesById(ctx context.Context, id species.Id) (species.Definition, error)
}

type Service struct {
	store Store
	log   *slog.Logger
	met   *metrics.Metrics

	mu  sync.Mutex
	rng *mrand.Rand
}

func New(st Store, rng *mrand.Rand, log *slog.Logger, met *metrics.Metrics) *Service {
	if rng == nil {
		var b [8]byte
		seed := time.Now().UnixNano()
		if _, err := rand.Read(b[:]); err == nil {
			seed = int64(binary.LittleEndian.Uint64(b[:]))
		}
		rng = mrand.New(mrand.NewSource(seed))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, rng: rng, log: log, met: met}
}

// CanonicalCode uppercases and validates raw user input.
func CanonicalCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !codePattern.MatchString(code) {
		return "", ErrBadCode
	}
	return code, nil
}

// Redeem validates and consumes one use of a code for the user. The
// reward instance's species is the code's configured species, or a
// random enabled draw when none is set. The minted instance is returned
// for the confirmation message; nil when the code grants coins only.
func (s *Service) Redeem(ctx context.Context, userId, rawCode string, ts time.Time) (*store.Instance, int64, error) {
	code, err := CanonicalCode(rawCode)
	if err != nil {
		s.met.Redemption("bad_code")
		return nil, 0, err
	}

	p, err := s.store.PromocodeByCode(ctx, code)
	if err != nil {
		s.met.Redemption("unknown")
		return nil, 0, err
	}

	inst, err := s.rollReward(ctx, p, userId, ts)
	if err != nil {
		return nil, 0, err
	}

	if err := s.store.RedeemPromocode(ctx, code, userId, ts, inst, p.RewardCredits); err != nil {
		s.met.Redemption(redemptionLabel(err))
		return nil, 0, err
	}

	s.met.Redemption("ok")
	s.log.Info("promo code redeemed", "code", code, "user", userId)
	return inst, p.RewardCredits, nil
}

// rollReward pre-rolls the reward instance outside the redemption
// transaction. Nil when the code grants no instance.
func (s *Service) rollReward(ctx context.Context, p store.Promocode, userId string, ts time.Time) (*store.Instance, error) {
	var def species.Definition
	switch {
	case p.RewardSpeciesId != 0:
		d, err := s.store.SpeciesById(ctx, p.RewardSpeciesId)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// reward species deleted by an admin; fall back to coins only
				return nil, nil
			}
			return nil, fmt.Errorf("load reward species: %w", err)
		}
		if !d.Enabled {
			return nil, nil
		}
		def = d
	default:
		defs, err := s.store.EnabledSpecies(ctx)
		if err != nil {
			return nil, fmt.Errorf("load species: %w", err)
		}
		if len(defs) == 0 {
			return nil, nil
		}
		s.mu.Lock()
		def = species.NewPicker(defs, s.rng).Pick()
		s.mu.Unlock()
	}

	s.mu.Lock()
	stats := species.RollStats(s.rng, def)
	s.mu.Unlock()

	return &store.Instance{
		Id:        uuid.NewString(),
		SpeciesId: def.Id,
		OwnerId:   userId,
		Attack:    stats.Attack,
		Health:    stats.Health,
		CaughtAt:  ts,
	}, nil
}

// Create registers a new code.
func (s *Service) Create(ctx context.Context, p store.Promocode) error {
	code, err := CanonicalCode(p.Code)
	if err != nil {
		return err
	}
	p.Code = code
	if p.UsesLeft <= 0 {
		return fmt.Errorf("uses must be positive, got %d", p.UsesLeft)
	}
	if p.MaxUsesPerUser <= 0 {
		p.MaxUsesPerUser = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := s.store.InsertPromocode(ctx, p); err != nil {
		return err
	}
	s.log.Info("promo code created", "code", p.Code, "uses", p.UsesLeft, "expires", p.ExpiresAt)
	return nil
}

// AddUses tops up a code and returns the new remaining count.
func (s *Service) AddUses(ctx context.Context, rawCode string, usesToAdd int) (int, error) {
	code, err := CanonicalCode(rawCode)
	if err != nil {
		return 0, err
	}
	if usesToAdd <= 0 {
		return 0, fmt.Errorf("uses to add must be positive, got %d", usesToAdd)
	}
	return s.store.AddPromocodeUses(ctx, code, usesToAdd)
}

// Archive soft-deletes a code, keeping its redemption history.
func (s *Service) Archive(ctx context.Context, rawCode string) error {
	code, err := CanonicalCode(rawCode)
	if err != nil {
		return err
	}
	if err := s.store.ArchivePromocode(ctx, code); err != nil {
		return err
	}
	s.log.Info("promo code archived", "code", code)
	return nil
}

// CleanExpired archives every live code past its expiry and returns how
// many were cleaned.
func (s *Service) CleanExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.ArchiveExpiredPromocodes(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("archived expired promo codes", "count", n)
	}
	return n, nil
}

// List returns live codes, or all codes when includeArchived.
func (s *Service) List(ctx context.Context, includeArchived bool) ([]store.Promocode, error) {
	return s.store.ListPromocodes(ctx, includeArchived)
}

func redemptionLabel(err error) string {
	switch {
	case errors.Is(err, store.ErrUnknownCode):
		return "unknown"
	case errors.Is(err, store.ErrCodeExpired):
		return "expired"
	case errors.Is(err, store.ErrCodeDepleted):
		return "depleted"
	case errors.Is(err, store.ErrAlreadyRedeemed):
		return "already_redeemed"
	default:
		return "error"
	}
}
