// Package catcher validates catch guesses against an active spawn and,
// on the first correct guess, mints the owned instance. Resolution is a
// store-level compare-and-set, so any number of concurrent correct
// guesses produce exactly one winner.
package catcher

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aram-Development/Nationdex/internal/metrics"
	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
)

type Result int

const (
	Caught Result = iota
	WrongName
	Expired
	AlreadyResolved
	OnCooldown
)

func (r Result) String() string {
	switch r {
	case Caught:
		return "caught"
	case WrongName:
		return "wrong_name"
	case Expired:
		return "expired"
	case AlreadyResolved:
		return "already_resolved"
	default:
		return "on_cooldown"
	}
}

// Outcome is the full result of one attempt. Instance is non-nil only
// for Caught; FirstMiss distinguishes a user's first wrong guess on a
// spawn from repeats, so repeats are not re-penalized.
type Outcome struct {
	Result    Result
	Instance  *store.Instance
	FirstMiss bool
}

// Store is the slice of the persistence gateway the verifier needs.
type Store interface {
	SpawnById(ctx context.Context, id string) (store.Spawn, error)
	SpeciesById(ctx context.Context, id species.Id) (species.Definition, error)
	ResolveSpawnCaught(ctx context.Context, spawnId string, inst store.Instance, now time.Time) error
	ExpireSpawn(ctx context.Context, spawnId string, now time.Time) (bool, error)
	RecordSpawnMiss(ctx context.Context, spawnId, userId string) (bool, error)
	LastCatchInChannel(ctx context.Context, userId, channelId string) (time.Time, error)
}

// Verifier checks guesses and mints instances. Cooldown is read through
// a getter so config hot reloads take effect immediately.
type Verifier struct {
	store    Store
	cooldown func() time.Duration
	log      *slog.Logger
	met      *metrics.Metrics

	mu  sync.Mutex
	rng *mrand.Rand
}

func New(st Store, cooldown func() time.Duration, rng *mrand.Rand, log *slog.Logger, met *metrics.Metrics) *Verifier {
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
	return &Verifier{store: st, cooldown: cooldown, rng: rng, log: log, met: met}
}

// Attempt verifies one guess. Check order per the catch rules: cooldown
// before any name comparison, then expiry, then the normalized exact
// match, then the atomic resolve.
func (v *Verifier) Attempt(ctx context.Context, spawnId, userId, guess string, ts time.Time) (Outcome, error) {
	started := time.Now()
	out, err := v.attempt(ctx, spawnId, userId, guess, ts)
	if err != nil {
		v.met.StoreError()
		return out, err
	}
	v.met.CatchAttempt(out.Result.String(), time.Since(started))
	return out, nil
}

func (v *Verifier) attempt(ctx context.Context, spawnId, userId, guess string, ts time.Time) (Outcome, error) {
	sp, err := v.store.SpawnById(ctx, spawnId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Result: AlreadyResolved}, nil
		}
		return Outcome{}, fmt.Errorf("load spawn: %w", err)
	}
	if sp.State != store.SpawnPending {
		return Outcome{Result: AlreadyResolved}, nil
	}

	lastCatch, err := v.store.LastCatchInChannel(ctx, userId, sp.ChannelId)
	if err != nil {
		return Outcome{}, fmt.Errorf("check cooldown: %w", err)
	}
	if cd := v.cooldown(); cd > 0 && !lastCatch.IsZero() && ts.Sub(lastCatch) < cd {
		return Outcome{Result: OnCooldown}, nil
	}

	if ts.After(sp.ExpiresAt) {
		won, err := v.store.ExpireSpawn(ctx, spawnId, ts)
		if err != nil {
			return Outcome{}, fmt.Errorf("expire spawn: %w", err)
		}
		if !won {
			return Outcome{Result: AlreadyResolved}, nil
		}
		return Outcome{Result: Expired}, nil
	}

	def, err := v.store.SpeciesById(ctx, sp.SpeciesId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// species deleted mid-spawn, retire it
			_, _ = v.store.ExpireSpawn(ctx, spawnId, ts)
			return Outcome{Result: Expired}, nil
		}
		return Outcome{}, fmt.Errorf("load species: %w", err)
	}

	if !nameMatches(def, guess) {
		first, err := v.store.RecordSpawnMiss(ctx, spawnId, userId)
		if err != nil {
			v.log.Warn("failed to record miss", "spawn", spawnId, "user", userId, "err", err)
		}
		return Outcome{Result: WrongName, FirstMiss: first}, nil
	}

	stats := v.rollStats(def)
	inst := store.Instance{
		Id:        uuid.NewString(),
		SpeciesId: def.Id,
		OwnerId:   userId,
		Attack:    stats.Attack,
		Health:    stats.Health,
		CaughtAt:  ts,
	}

	err = v.store.ResolveSpawnCaught(ctx, spawnId, inst, ts)
	switch {
	case err == nil:
		v.log.Info("spawn caught",
			"spawn", spawnId, "user", userId, "species", def.Key, "instance", inst.Id)
		return Outcome{Result: Caught, Instance: &inst}, nil
	case errors.Is(err, store.ErrAlreadyResolved), errors.Is(err, store.ErrNotFound):
		return Outcome{Result: AlreadyResolved}, nil
	case errors.Is(err, store.ErrSpeciesDisabled):
		return Outcome{Result: Expired}, nil
	default:
		return Outcome{}, fmt.Errorf("resolve spawn: %w", err)
	}
}

func (v *Verifier) rollStats(def species.Definition) species.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return species.RollStats(v.rng, def)
}

func nameMatches(def species.Definition, guess string) bool {
	g := Normalize(guess)
	if g == "" {
		return false
	}
	if g == Normalize(def.Name) {
		return true
	}
	for _, alias := range def.Aliases {
		if g == Normalize(alias) {
			return true
		}
	}
	return false
}
