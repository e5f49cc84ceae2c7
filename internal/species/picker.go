package species

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sort"
	"time"
)

// Picker draws species by rarity weight. It is built from a snapshot of
// enabled definitions and is meant to be short-lived: callers rebuild it
// from a fresh catalog read on every spawn decision so admin edits take
// effect immediately.
type Picker struct {
	defs        []Definition
	cumulative  []float64
	totalWeight float64
	meanWeight  float64
	rng         *mrand.Rand
}

// NewPicker builds a picker over defs. The slice is sorted by id so that
// equal weights resolve in a stable order. A nil rng gets a crypto-seeded
// source; tests pass a fixed seed.
func NewPicker(defs []Definition, rng *mrand.Rand) *Picker {
	if rng == nil {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
		} else {
			rng = mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(b[:]))))
		}
	}

	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Id < sorted[j].Id })

	p := &Picker{
		defs: sorted,
		rng:  rng,
	}

	p.cumulative = make([]float64, len(sorted))
	total := 0.0
	for i, sp := range sorted {
		w := sp.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		p.cumulative[i] = total
	}
	p.totalWeight = total
	if len(sorted) > 0 {
		p.meanWeight = total / float64(len(sorted))
	}
	return p
}

// Empty reports whether the picker has nothing to draw from.
func (p *Picker) Empty() bool { return len(p.defs) == 0 }

// Pick draws one species, weighted by rarity weight.
func (p *Picker) Pick() Definition {
	if len(p.defs) == 0 {
		return Definition{}
	}

	roll := p.rng.Float64() * p.totalWeight

	// binary search over the cumulative weights
	lo, hi := 0, len(p.cumulative)-1
	for lo < hi {
		mid := (lo + hi) >> 1
		if roll < p.cumulative[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return p.defs[lo]
}

// RollStats draws each stat uniformly and independently within the
// species bounds.
func (p *Picker) RollStats(sp Definition) Stats {
	return RollStats(p.rng, sp)
}

// RollStats draws a stat line with the given source.
func RollStats(rng *mrand.Rand, sp Definition) Stats {
	return Stats{
		Attack: rollBetween(rng, sp.MinAttack, sp.MaxAttack),
		Health: rollBetween(rng, sp.MinHealth, sp.MaxHealth),
	}
}

func rollBetween(rng *mrand.Rand, min, max int) int {
	if max < min {
		max = min
	}
	if max == min {
		return min
	}
	return min + rng.Intn(max-min+1)
}

// Tier classifies a species by its weight relative to the snapshot mean.
func (p *Picker) Tier(sp Definition) RarityTier {
	if p.meanWeight <= 0 {
		return TierCommon
	}
	r := sp.Weight / p.meanWeight
	switch {
	case r < 0.05:
		return TierMythic
	case r < 0.20:
		return TierLegendary
	case r < 0.50:
		return TierEpic
	case r < 1.00:
		return TierRare
	case r < 1.50:
		return TierUncommon
	default:
		return TierCommon
	}
}
