package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestAllowArmsCooldown(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(10*time.Second, 10*time.Second, clk)

	ok, rem := l.Allow("k")
	if !ok || rem != 0 {
		t.Fatalf("first call: ok=%v rem=%v, want allowed", ok, rem)
	}

	ok, rem = l.Allow("k")
	if ok {
		t.Fatal("second call within cooldown was allowed")
	}
	if rem != 10*time.Second {
		t.Fatalf("remaining = %v, want 10s", rem)
	}

	clk.advance(9 * time.Second)
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("allowed 1s early")
	}

	clk.advance(time.Second)
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("denied after the cooldown elapsed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(10*time.Second, 10*time.Second, clk)

	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("fresh key a denied")
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("fresh key b denied")
	}
	if ok, _ := l.AllowUser("g1", "u1"); !ok {
		t.Fatal("fresh user denied")
	}
	// same user in another guild is a different key
	if ok, _ := l.AllowUser("g2", "u1"); !ok {
		t.Fatal("same user, other guild denied")
	}
}

func TestReset(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(time.Minute, time.Minute, clk)

	l.Allow("k")
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("expected denial before reset")
	}
	l.Reset("k")
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("denied after reset")
	}
}

func TestJitterStaysInRange(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter(10*time.Second, 20*time.Second, clk)

	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("k")
		if !ok {
			t.Fatal("expected allowance at cooldown boundary")
		}
		_, rem := l.Allow("k")
		if rem < 10*time.Second || rem > 20*time.Second {
			t.Fatalf("cooldown %v outside [10s, 20s]", rem)
		}
		clk.advance(rem)
	}
}
