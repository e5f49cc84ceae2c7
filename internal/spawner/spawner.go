// Package spawner decides whether, when and what to spawn. The trigger
// policy is configuration-driven: a channel qualifies once enough
// messages have arrived and a jittered minimum interval has passed since
// its previous spawn. Species selection is a weighted draw over the
// catalog, re-read from the store on every decision so admin edits to
// weights and enabled flags are never stale.
package spawner

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

	"github.com/Aram-Development/Nationdex/internal/gateway"
	"github.com/Aram-Development/Nationdex/internal/metrics"
	"github.com/Aram-Development/Nationdex/internal/species"
	"github.com/Aram-Development/Nationdex/internal/store"
)

// Policy is the spawn trigger configuration, re-read on every event so
// hot reloads apply immediately.
type Policy struct {
	MessageThreshold int
	IntervalMin      time.Duration
	IntervalMax      time.Duration
	CatchExpiry      time.Duration
	// SpawnChannels maps guild id to its spawn-channel allowlist. A
	// guild with no entry never spawns.
	SpawnChannels map[string][]string
}

// Store is the slice of the persistence gateway the scheduler needs.
type Store interface {
	EnabledSpecies(ctx context.Context) ([]species.Definition, error)
	InsertSpawn(ctx context.Context, sp store.Spawn) error
	PendingSpawnInChannel(ctx context.Context, channelId string) (store.Spawn, error)
	ExpireOverdueSpawns(ctx context.Context, now time.Time) (int64, error)
}

type channelState struct {
	messages     int
	nextEligible time.Time
}

// Scheduler tracks per-channel activity and posts spawns. Announce
// renders the spawn message; the species name is deliberately not part
// of it.
type Scheduler struct {
	store    Store
	msgr     gateway.Messenger
	policy   func() Policy
	announce func(def species.Definition) string
	log      *slog.Logger
	met      *metrics.Metrics

	mu    sync.Mutex
	chans map[string]*channelState
	rng   *mrand.Rand
}

func New(st Store, msgr gateway.Messenger, policy func() Policy, announce func(species.Definition) string, rng *mrand.Rand, log *slog.Logger, met *metrics.Metrics) *Scheduler {
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
	return &Scheduler{
		store:    st,
		msgr:     msgr,
		policy:   policy,
		announce: announce,
		log:      log,
		met:      met,
		chans:    make(map[string]*channelState),
	}
}

// HandleActivity feeds one channel message into the trigger policy and
// spawns when the channel qualifies. Returns the new spawn, or nil when
// nothing spawned.
func (s *Scheduler) HandleActivity(ctx context.Context, guildId, channelId string, ts time.Time) (*store.Spawn, error) {
	pol := s.policy()
	if !channelAllowed(pol, guildId, channelId) {
		return nil, nil
	}

	if !s.qualify(pol, channelId, ts) {
		return nil, nil
	}

	sp, err := s.MaybeSpawn(ctx, guildId, channelId, ts)
	if err != nil {
		// the channel keeps its armed state; next qualifying burst
		// tries again
		return nil, err
	}
	return sp, nil
}

// qualify updates the channel counters and reports whether a spawn is
// due. The counter resets only when a spawn fires.
func (s *Scheduler) qualify(pol Policy, channelId string, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.chans[channelId]
	if !ok {
		st = &channelState{nextEligible: ts.Add(s.jitterLocked(pol))}
		s.chans[channelId] = st
	}
	st.messages++

	if st.messages < pol.MessageThreshold || ts.Before(st.nextEligible) {
		return false
	}

	st.messages = 0
	st.nextEligible = ts.Add(s.jitterLocked(pol))
	return true
}

// MaybeSpawn draws a species over the current catalog and posts the
// announcement. The spawn row is persisted only after the post
// succeeds; a failed post (after the messenger's bounded retries) drops
// the spawn with no partial state.
func (s *Scheduler) MaybeSpawn(ctx context.Context, guildId, channelId string, ts time.Time) (*store.Spawn, error) {
	if _, err := s.store.PendingSpawnInChannel(ctx, channelId); err == nil {
		// one live spawn per channel
		return nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check pending spawn: %w", err)
	}

	defs, err := s.store.EnabledSpecies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load species: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	picker := species.NewPicker(defs, s.rng)
	def := picker.Pick()
	s.mu.Unlock()

	msgId, err := s.msgr.SendMessage(ctx, channelId, s.announce(def))
	if err != nil {
		s.log.Warn("spawn announcement failed, dropping spawn",
			"channel", channelId, "species", def.Key, "err", err)
		return nil, nil
	}

	pol := s.policy()
	sp := store.Spawn{
		Id:        uuid.NewString(),
		SpeciesId: def.Id,
		GuildId:   guildId,
		ChannelId: channelId,
		MessageId: msgId,
		SpawnedAt: ts,
		ExpiresAt: ts.Add(pol.CatchExpiry),
	}
	if err := s.store.InsertSpawn(ctx, sp); err != nil {
		return nil, fmt.Errorf("persist spawn: %w", err)
	}

	s.met.SpawnPosted()
	s.log.Info("spawned", "channel", channelId, "species", def.Key, "spawn", sp.Id,
		"expires", sp.ExpiresAt)
	return &sp, nil
}

// PendingSpawn returns the live spawn in a channel, if any.
func (s *Scheduler) PendingSpawn(ctx context.Context, channelId string) (store.Spawn, error) {
	return s.store.PendingSpawnInChannel(ctx, channelId)
}

// RunSweeper retires overdue pending spawns until ctx is cancelled.
func (s *Scheduler) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := s.store.ExpireOverdueSpawns(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					s.met.StoreError()
					s.log.Error("spawn sweep failed", "err", err)
				}
				continue
			}
			if n > 0 {
				s.met.SpawnsExpired(n)
				s.log.Info("expired spawns", "count", n)
			}
		}
	}
}

func (s *Scheduler) jitterLocked(pol Policy) time.Duration {
	min, max := pol.IntervalMin, pol.IntervalMax
	if max < min {
		max = min
	}
	if max == min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

func channelAllowed(pol Policy, guildId, channelId string) bool {
	channels, ok := pol.SpawnChannels[guildId]
	if !ok {
		return false
	}
	for _, c := range channels {
		if c == channelId {
			return true
		}
	}
	return false
}
