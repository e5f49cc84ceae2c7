// Package ratelimit throttles command spam with jittered per-key
// cooldowns. This limiter is in-memory and advisory only; the
// authoritative catch cooldown lives in the store so it survives
// restarts.
package ratelimit

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type Limiter struct {
	mu   sync.Mutex
	next map[string]time.Time
	min  time.Duration
	max  time.Duration
	clk  Clock
	rng  *mrand.Rand
}

// NewLimiter builds a limiter whose cooldown after each allowed call is
// drawn uniformly from [min, max]. A nil clock uses wall time.
func NewLimiter(min, max time.Duration, clk Clock) *Limiter {
	if clk == nil {
		clk = RealClock{}
	}
	if max < min {
		max = min
	}

	seed := func() int64 {
		var b [8]byte
		if _, err := rand.Read(b[:]); err == nil {
			return int64(binary.LittleEndian.Uint64(b[:]))
		}
		return time.Now().UnixNano()
	}()

	return &Limiter{
		next: make(map[string]time.Time),
		min:  min,
		max:  max,
		clk:  clk,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Allow reports whether the key may act now. When denied, it returns
// the time remaining on the cooldown. When allowed, the next cooldown
// is armed.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.next[key]; ok && now.Before(until) {
		return false, until.Sub(now)
	}

	l.next[key] = now.Add(l.nextCooldown())
	return true, 0
}

// AllowUser is Allow keyed by guild and user.
func (l *Limiter) AllowUser(guildId, userId string) (bool, time.Duration) {
	return l.Allow(guildId + ":" + userId)
}

// Reset clears a key's cooldown.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.next, key)
	l.mu.Unlock()
}

func (l *Limiter) nextCooldown() time.Duration {
	if l.min >= l.max {
		return l.min
	}
	span := l.max - l.min
	jitter := time.Duration(l.rng.Int63n(int64(span)))
	return l.min + jitter
}
