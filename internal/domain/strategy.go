package domain

import "fmt"

// Strategy is the closed set of supported investment strategies.
// A closed enum (rather than free-form strategy names) means an unknown
// strategy is a compile-time or parse-time failure, never a silent
// lookup miss at selection time.
type Strategy int

const (
	StrategyUnknown Strategy = iota
	StrategyGrowthMidcap
	StrategyGrowthLargecap
	StrategyBalancedCore
	StrategyDefensiveValue
	StrategyCapitalPreservation
)

// String returns the stable identifier used in persistence and logs
func (s Strategy) String() string {
	switch s {
	case StrategyGrowthMidcap:
		return "growth_midcap"
	case StrategyGrowthLargecap:
		return "growth_largecap"
	case StrategyBalancedCore:
		return "balanced_core"
	case StrategyDefensiveValue:
		return "defensive_value"
	case StrategyCapitalPreservation:
		return "capital_preservation"
	default:
		return "unknown"
	}
}

// StrategyFromString parses a persisted strategy identifier
func StrategyFromString(s string) (Strategy, error) {
	switch s {
	case "growth_midcap":
		return StrategyGrowthMidcap, nil
	case "growth_largecap":
		return StrategyGrowthLargecap, nil
	case "balanced_core":
		return StrategyBalancedCore, nil
	case "defensive_value":
		return StrategyDefensiveValue, nil
	case "capital_preservation":
		return StrategyCapitalPreservation, nil
	default:
		return StrategyUnknown, fmt.Errorf("unknown strategy: %q", s)
	}
}
