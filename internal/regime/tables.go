package regime

import "github.com/aristath/steward/internal/domain"

// CrisisLabel overrides the trend/volatility grid whenever realized
// volatility lands in the extreme bucket.
const CrisisLabel = "crisis"

// labelTable maps trend x volatility to the emitted regime label.
// The table is total over {bull,bear,sideways} x {low,medium,high};
// the extreme volatility bucket maps to CrisisLabel regardless of trend.
var labelTable = map[domain.TrendBucket]map[domain.VolatilityBucket]string{
	domain.TrendBull: {
		domain.VolLow:    "bull_low_vol",
		domain.VolMedium: "bull_medium_vol",
		domain.VolHigh:   "bull_high_vol",
	},
	domain.TrendBear: {
		domain.VolLow:    "bear_low_vol",
		domain.VolMedium: "bear_medium_vol",
		domain.VolHigh:   "bear_high_vol",
	},
	domain.TrendSideways: {
		domain.VolLow:    "sideways_low_vol",
		domain.VolMedium: "sideways_medium_vol",
		domain.VolHigh:   "sideways_high_vol",
	},
}

// Label resolves a trend/volatility pair to its regime label
func Label(trend domain.TrendBucket, vol domain.VolatilityBucket) string {
	if vol == domain.VolExtreme {
		return CrisisLabel
	}
	return labelTable[trend][vol]
}

// AllLabels returns every label the classifier can emit.
// Used by the strategy tables to prove total coverage.
func AllLabels() []string {
	labels := []string{CrisisLabel}
	for _, trend := range []domain.TrendBucket{domain.TrendBull, domain.TrendBear, domain.TrendSideways} {
		for _, vol := range []domain.VolatilityBucket{domain.VolLow, domain.VolMedium, domain.VolHigh} {
			labels = append(labels, labelTable[trend][vol])
		}
	}
	return labels
}
