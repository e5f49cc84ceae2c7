package species

type RarityTier int

const (
	TierCommon RarityTier = iota
	TierUncommon
	TierRare
	TierEpic
	TierLegendary
	TierMythic
)

func (t RarityTier) String() string {
	switch t {
	case TierMythic:
		return "Mythic"
	case TierLegendary:
		return "Legendary"
	case TierEpic:
		return "Epic"
	case TierRare:
		return "Rare"
	case TierUncommon:
		return "Uncommon"
	default:
		return "Common"
	}
}

func ColorForTier(t RarityTier) int {
	switch t {
	case TierMythic:
		return 0xE74C3C // red
	case TierLegendary:
		return 0xF1C40F // gold
	case TierEpic:
		return 0x9B59B6 // purple
	case TierRare:
		return 0x3498DB // blue
	case TierUncommon:
		return 0x2ECC71 // green
	default:
		return 0x95A5A6 // gray
	}
}
