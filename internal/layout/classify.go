package layout

import "math"

// Tier buckets a panel's annual yield relative to the best and worst
// producers of its site.
type Tier int

const (
	// TierUnknown marks panels without a computed positive yield.
	TierUnknown Tier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Thresholds on the normalized [0,1] yield.
const (
	highThreshold   = 0.66
	mediumThreshold = 0.33
)

// Classify ranks every panel's annual yield against the extremes of its
// site, keyed by panel index. Only positive yields take part in the
// normalization, everything else gets TierUnknown. Recompute after
// production data changes, never on selection changes: selecting fewer
// panels does not change what each one would produce.
func Classify(panels []Panel) map[int]Tier {
	tiers := make(map[int]Tier, len(panels))

	min := math.Inf(1)
	max := math.Inf(-1)
	for _, p := range panels {
		if p.AnnualKwh == nil || *p.AnnualKwh <= 0 {
			continue
		}
		min = math.Min(min, *p.AnnualKwh)
		max = math.Max(max, *p.AnnualKwh)
	}

	for _, p := range panels {
		if p.AnnualKwh == nil || *p.AnnualKwh <= 0 {
			tiers[p.Index] = TierUnknown
			continue
		}

		// Identical yields across the site land everyone in the middle.
		normalized := 0.5
		if max > min {
			normalized = (*p.AnnualKwh - min) / (max - min)
		}

		switch {
		case normalized > highThreshold:
			tiers[p.Index] = TierHigh
		case normalized > mediumThreshold:
			tiers[p.Index] = TierMedium
		default:
			tiers[p.Index] = TierLow
		}
	}

	return tiers
}
