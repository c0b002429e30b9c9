package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/domain"
)

func looseLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:      0.10,
		MaxConcentrationTop3: 0.50,
		MaxTurnover:          0.25,
		MaxDrawdown:          0.20,
		MinCashBalance:       1000,
	}
}

func TestEnforce_CompliantPortfolioUnchanged(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	candidate := domain.TargetPortfolio{}
	for _, ticker := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		candidate[ticker] = 0.10
	}

	clipped, err := e.Enforce(candidate, looseLimits())
	require.NoError(t, err)
	assert.Equal(t, candidate, clipped)
}

func TestEnforce_ClipsOversizedWeightProportionally(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	// One 20% position over a 10% cap; excess spreads over the rest
	candidate := domain.TargetPortfolio{
		"BIG": 0.20,
		"A":   0.10, "B": 0.10, "C": 0.10, "D": 0.10,
		"E": 0.10, "F": 0.10, "G": 0.10, "H": 0.05, "I": 0.05,
	}
	limits := looseLimits()
	limits.MaxConcentrationTop3 = 1.0

	clipped, err := e.Enforce(candidate, limits)
	require.NoError(t, err)

	assert.InDelta(t, 0.10, clipped["BIG"], 1e-9)
	for ticker, w := range clipped {
		assert.LessOrEqual(t, w, 0.10+domain.WeightSumTolerance, "ticker %s", ticker)
	}
	assert.InDelta(t, 1.0, clipped.Sum(), 1e-6, "clipping conserves total weight")
	// Input portfolio untouched
	assert.InDelta(t, 0.20, candidate["BIG"], 1e-12)
}

func TestEnforce_CascadingClipConverges(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	// Redistribution pushes near-cap names over the cap, forcing more rounds
	candidate := domain.TargetPortfolio{
		"A": 0.30, "B": 0.095, "C": 0.095, "D": 0.095, "E": 0.095,
		"F": 0.095, "G": 0.095, "H": 0.065, "I": 0.045, "J": 0.02,
	}
	limits := looseLimits()
	limits.MaxConcentrationTop3 = 1.0

	clipped, err := e.Enforce(candidate, limits)
	require.NoError(t, err)
	for ticker, w := range clipped {
		assert.LessOrEqual(t, w, 0.10+1e-6, "ticker %s", ticker)
	}
	assert.InDelta(t, 1.0, clipped.Sum(), 1e-6)
}

func TestEnforce_UnsatisfiableCapIsConstraintViolation(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	// 5 names cannot sum to 1.0 under a 10% cap
	candidate := domain.TargetPortfolio{"A": 0.3, "B": 0.3, "C": 0.2, "D": 0.1, "E": 0.1}

	_, err := e.Enforce(candidate, looseLimits())
	require.Error(t, err)
	assert.Equal(t, domain.KindConstraintViolation, domain.KindOf(err))
	assert.Equal(t, "risk", domain.StageOf(err))
}

func TestEnforce_Top3ConcentrationRejected(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	limits := looseLimits()
	limits.MaxPositionSize = 0.25
	limits.MaxConcentrationTop3 = 0.50

	// Top three hold 66% with every single weight under the 25% cap
	candidate := domain.TargetPortfolio{
		"A": 0.22, "B": 0.22, "C": 0.22,
		"D": 0.12, "E": 0.12, "F": 0.10,
	}

	_, err := e.Enforce(candidate, limits)
	require.Error(t, err)
	assert.Equal(t, domain.KindConstraintViolation, domain.KindOf(err))
}

func TestEnforce_DeterministicAcrossRuns(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	limits := looseLimits()
	limits.MaxConcentrationTop3 = 1.0
	candidate := domain.TargetPortfolio{
		"A": 0.25, "B": 0.15, "C": 0.10, "D": 0.10, "E": 0.10,
		"F": 0.08, "G": 0.08, "H": 0.07, "I": 0.04, "J": 0.03,
	}

	first, err := e.Enforce(candidate, limits)
	require.NoError(t, err)
	second, err := e.Enforce(candidate, limits)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckCashFloor(t *testing.T) {
	e := NewEnforcer(zerolog.Nop())
	limits := looseLimits() // floor 1000

	sell := domain.TradeIntent{Ticker: "A", Side: domain.SideSell, Quantity: 10, ReferencePrice: 100}
	buy := domain.TradeIntent{Ticker: "B", Side: domain.SideBuy, Quantity: 20, ReferencePrice: 100}

	// 1500 + 1000 - 2000 = 500 < 1000
	err := e.CheckCashFloor([]domain.TradeIntent{sell, buy}, 1500, limits)
	require.Error(t, err)
	assert.Equal(t, domain.KindConstraintViolation, domain.KindOf(err))

	// 2500 + 1000 - 2000 = 1500 >= 1000
	assert.NoError(t, e.CheckCashFloor([]domain.TradeIntent{sell, buy}, 2500, limits))

	// No trades never violates the floor
	assert.NoError(t, e.CheckCashFloor(nil, 0, limits))

	// A cash-raising batch passes even when the account is already
	// under the floor
	assert.NoError(t, e.CheckCashFloor([]domain.TradeIntent{sell}, 0, limits))
}
