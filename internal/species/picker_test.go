package species

import (
	mrand "math/rand"
	"testing"
)

func def(id int64, key string, weight float64) Definition {
	return Definition{
		Id: Id(id), Key: key, Name: key, Weight: weight,
		MinAttack: -20, MaxAttack: 20, MinHealth: -20, MaxHealth: 20,
		Enabled: true,
	}
}

func TestPickWeightedDistribution(t *testing.T) {
	rng := mrand.New(mrand.NewSource(42))
	p := NewPicker([]Definition{
		def(1, "common", 9),
		def(2, "rare", 1),
	}, rng)

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		counts[p.Pick().Key]++
	}

	// expect ~90% common; allow a generous band for sampling noise
	ratio := float64(counts["common"]) / draws
	if ratio < 0.87 || ratio > 0.93 {
		t.Fatalf("common drawn %.3f of the time, want ~0.90", ratio)
	}
	if counts["rare"] == 0 {
		t.Fatal("rare species never drawn")
	}
}

func TestPickSingleSpecies(t *testing.T) {
	p := NewPicker([]Definition{def(7, "only", 3)}, mrand.New(mrand.NewSource(1)))
	for i := 0; i < 100; i++ {
		if got := p.Pick(); got.Key != "only" {
			t.Fatalf("picked %q, want only", got.Key)
		}
	}
}

func TestPickEmpty(t *testing.T) {
	p := NewPicker(nil, mrand.New(mrand.NewSource(1)))
	if !p.Empty() {
		t.Fatal("expected empty picker")
	}
	if got := p.Pick(); got.Id != 0 {
		t.Fatalf("empty picker returned %+v", got)
	}
}

func TestRollStatsWithinBounds(t *testing.T) {
	rng := mrand.New(mrand.NewSource(99))
	sp := def(1, "x", 1)
	sp.MinAttack, sp.MaxAttack = -10, 15
	sp.MinHealth, sp.MaxHealth = 0, 0

	sawLow, sawHigh := false, false
	for i := 0; i < 5000; i++ {
		st := RollStats(rng, sp)
		if st.Attack < -10 || st.Attack > 15 {
			t.Fatalf("attack %d out of [-10, 15]", st.Attack)
		}
		if st.Health != 0 {
			t.Fatalf("health %d, want 0 for a degenerate range", st.Health)
		}
		if st.Attack == -10 {
			sawLow = true
		}
		if st.Attack == 15 {
			sawHigh = true
		}
	}
	if !sawLow || !sawHigh {
		t.Fatal("bounds are inclusive but an endpoint was never rolled")
	}
}

func TestRollStatsInvertedRange(t *testing.T) {
	rng := mrand.New(mrand.NewSource(5))
	sp := def(1, "x", 1)
	sp.MinAttack, sp.MaxAttack = 10, 3
	if st := RollStats(rng, sp); st.Attack != 10 {
		t.Fatalf("inverted range rolled %d, want min %d", st.Attack, 10)
	}
}

func TestTierClassification(t *testing.T) {
	// 10 species, weights 1..10, mean weight 5.5
	defs := make([]Definition, 0, 10)
	for i := int64(1); i <= 10; i++ {
		defs = append(defs, def(i, "", float64(i)))
	}
	p := NewPicker(defs, mrand.New(mrand.NewSource(1)))

	cases := []struct {
		weight float64
		want   RarityTier
	}{
		{10, TierCommon},   // 1.82x mean
		{6, TierUncommon},  // 1.09x
		{3, TierRare},      // 0.55x
		{2, TierEpic},      // 0.36x
		{1, TierLegendary}, // 0.18x
		{0.2, TierMythic},  // 0.036x
	}
	for _, tc := range cases {
		sp := def(1, "x", tc.weight)
		if got := p.Tier(sp); got != tc.want {
			t.Errorf("Tier(weight=%v) = %s, want %s", tc.weight, got, tc.want)
		}
	}
}

func TestTierStringsAndColors(t *testing.T) {
	tiers := []RarityTier{TierCommon, TierUncommon, TierRare, TierEpic, TierLegendary, TierMythic}
	seen := map[string]bool{}
	for _, tier := range tiers {
		s := tier.String()
		if seen[s] {
			t.Fatalf("duplicate tier name %q", s)
		}
		seen[s] = true
		if ColorForTier(tier) == 0 {
			t.Errorf("tier %s has no color", s)
		}
	}
}
