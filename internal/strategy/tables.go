package strategy

import "github.com/aristath/steward/internal/domain"

// eligibilityTable maps every regime label to its ordered eligible
// strategies, most preferred first. The table is total over the
// classifier's label set; order doubles as the final tie-breaker.
var eligibilityTable = map[string][]domain.Strategy{
	"bull_low_vol":       {domain.StrategyGrowthMidcap, domain.StrategyGrowthLargecap, domain.StrategyBalancedCore},
	"bull_medium_vol":    {domain.StrategyGrowthLargecap, domain.StrategyGrowthMidcap, domain.StrategyBalancedCore},
	"bull_high_vol":      {domain.StrategyGrowthLargecap, domain.StrategyBalancedCore, domain.StrategyDefensiveValue},
	"sideways_low_vol":   {domain.StrategyBalancedCore, domain.StrategyGrowthLargecap, domain.StrategyDefensiveValue},
	"sideways_medium_vol": {domain.StrategyBalancedCore, domain.StrategyDefensiveValue},
	"sideways_high_vol":  {domain.StrategyDefensiveValue, domain.StrategyBalancedCore},
	"bear_low_vol":       {domain.StrategyDefensiveValue, domain.StrategyBalancedCore},
	"bear_medium_vol":    {domain.StrategyDefensiveValue, domain.StrategyCapitalPreservation},
	"bear_high_vol":      {domain.StrategyCapitalPreservation, domain.StrategyDefensiveValue},
	"crisis":             {domain.StrategyCapitalPreservation},
}

// Eligible returns the ordered eligible strategies for a regime label.
// The boolean is false for labels outside the table.
func Eligible(regimeLabel string) ([]domain.Strategy, bool) {
	list, ok := eligibilityTable[regimeLabel]
	if !ok {
		return nil, false
	}
	out := make([]domain.Strategy, len(list))
	copy(out, list)
	return out, true
}

// Binding carries the per-strategy portfolio construction parameters
type Binding struct {
	// MaxPositions caps how many names the target builder holds
	MaxPositions int

	// UseExternalWeights enables the external weighting model; when
	// false the builder always equal-weights.
	UseExternalWeights bool

	// CashTarget is the fraction deliberately left unallocated
	CashTarget float64
}

// bindings holds the construction parameters per strategy
var bindings = map[domain.Strategy]Binding{
	domain.StrategyGrowthMidcap:        {MaxPositions: 25, UseExternalWeights: true},
	domain.StrategyGrowthLargecap:      {MaxPositions: 20, UseExternalWeights: true},
	domain.StrategyBalancedCore:        {MaxPositions: 30, UseExternalWeights: true},
	domain.StrategyDefensiveValue:      {MaxPositions: 20, UseExternalWeights: false},
	domain.StrategyCapitalPreservation: {MaxPositions: 10, UseExternalWeights: false, CashTarget: 0},
}

// BindingFor returns the construction parameters for a strategy
func BindingFor(s domain.Strategy) Binding {
	if b, ok := bindings[s]; ok {
		return b
	}
	return Binding{MaxPositions: 20}
}
