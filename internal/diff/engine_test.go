package diff

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/domain"
)

func diffLimits(maxTurnover float64) domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:      0.50,
		MaxConcentrationTop3: 1.0,
		MaxTurnover:          maxTurnover,
		MinCashBalance:       0,
	}
}

func TestCompute_BasicDiff(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	// Holding 100 AAPL @ $150 in a $30,000 account; target is an even
	// AAPL/MSFT split. AAPL is already exactly on target.
	positions := []domain.CurrentPosition{{Ticker: "AAPL", Quantity: 100, AvgCost: 120}}
	target := domain.TargetPortfolio{"AAPL": 0.5, "MSFT": 0.5}
	prices := map[string]float64{"AAPL": 150, "MSFT": 300}

	result, err := e.Compute(positions, target, 30000, prices, diffLimits(1.0))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "MSFT", trade.Ticker)
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.Equal(t, int64(50), trade.Quantity)
	assert.InDelta(t, 0.5, result.Turnover, 1e-9)
	assert.False(t, result.Scaled)
}

func TestCompute_ExitedPositionFullySold(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	positions := []domain.CurrentPosition{
		{Ticker: "XOM", Quantity: 40, AvgCost: 90},
		{Ticker: "AAPL", Quantity: 10, AvgCost: 120},
	}
	target := domain.TargetPortfolio{"AAPL": 1.0}
	prices := map[string]float64{"XOM": 100, "AAPL": 200}

	result, err := e.Compute(positions, target, 10000, prices, diffLimits(10.0))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	// SELL comes first
	assert.Equal(t, domain.SideSell, result.Trades[0].Side)
	assert.Equal(t, "XOM", result.Trades[0].Ticker)
	assert.Equal(t, int64(40), result.Trades[0].Quantity)
	assert.Equal(t, domain.SideBuy, result.Trades[1].Side)
	assert.Equal(t, "AAPL", result.Trades[1].Ticker)
	assert.Equal(t, int64(40), result.Trades[1].Quantity)
}

func TestCompute_OrderingSellsThenBuysAlphabetical(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	positions := []domain.CurrentPosition{
		{Ticker: "ZZZ", Quantity: 10},
		{Ticker: "MMM", Quantity: 10},
	}
	target := domain.TargetPortfolio{"BBB": 0.5, "AAA": 0.5}
	prices := map[string]float64{"ZZZ": 10, "MMM": 10, "AAA": 10, "BBB": 10}

	result, err := e.Compute(positions, target, 1000, prices, diffLimits(10.0))
	require.NoError(t, err)

	var got []string
	for _, trade := range result.Trades {
		got = append(got, string(trade.Side)+":"+trade.Ticker)
	}
	assert.Equal(t, []string{"SELL:MMM", "SELL:ZZZ", "BUY:AAA", "BUY:BBB"}, got)
}

func TestCompute_TargetSharesFloored(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	// 0.5 * 1000 / 333 = 1.50... floors to 1 share
	target := domain.TargetPortfolio{"ABC": 0.5, "DEF": 0.5}
	prices := map[string]float64{"ABC": 333, "DEF": 500}

	result, err := e.Compute(nil, target, 1000, prices, diffLimits(10.0))
	require.NoError(t, err)

	byTicker := map[string]int64{}
	for _, trade := range result.Trades {
		byTicker[trade.Ticker] = trade.Quantity
	}
	assert.Equal(t, int64(1), byTicker["ABC"])
	assert.Equal(t, int64(1), byTicker["DEF"])
}

func TestCompute_TurnoverScalingProRata(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	// Selling everything and buying fresh: turnover well above the cap
	positions := []domain.CurrentPosition{{Ticker: "OLD", Quantity: 90, AvgCost: 50}}
	target := domain.TargetPortfolio{"NEW": 1.0}
	prices := map[string]float64{"OLD": 100, "NEW": 100}

	limits := diffLimits(0.30)
	result, err := e.Compute(positions, target, 10000, prices, limits)
	require.NoError(t, err)

	assert.True(t, result.Scaled)
	assert.LessOrEqual(t, result.Turnover, limits.MaxTurnover+1e-9)

	// Both trades scaled by the same ratio, never just the largest
	byTicker := map[string]int64{}
	for _, trade := range result.Trades {
		byTicker[trade.Ticker] = trade.Quantity
	}
	assert.Positive(t, byTicker["OLD"])
	assert.Positive(t, byTicker["NEW"])
	assert.InDelta(t, float64(byTicker["OLD"]), float64(byTicker["NEW"]), 2,
		"equal-notional trades scale to near-equal quantities")
}

func TestCompute_ScalingIdempotent(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	positions := []domain.CurrentPosition{{Ticker: "OLD", Quantity: 77, AvgCost: 50}}
	target := domain.TargetPortfolio{"NEW": 1.0}
	prices := map[string]float64{"OLD": 103, "NEW": 97}
	limits := diffLimits(0.25)

	result, err := e.Compute(positions, target, 10000, prices, limits)
	require.NoError(t, err)
	require.True(t, result.Scaled)

	// Reapplying the scaling step to its own output changes nothing
	ratio := limits.MaxTurnover / result.Turnover
	require.GreaterOrEqual(t, ratio, 1.0)
	rescaled := scaleTrades(result.Trades, 1.0)
	assert.Equal(t, result.Trades, rescaled)
}

func TestCompute_MissingPriceIsDataUnavailable(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	target := domain.TargetPortfolio{"AAPL": 1.0}

	_, err := e.Compute(nil, target, 10000, map[string]float64{}, diffLimits(1.0))
	require.Error(t, err)
	assert.Equal(t, domain.KindDataUnavailable, domain.KindOf(err))
	assert.Equal(t, "diff", domain.StageOf(err))
}

func TestCompute_NonPositiveAccountValue(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	_, err := e.Compute(nil, domain.TargetPortfolio{"AAPL": 1.0}, 0,
		map[string]float64{"AAPL": 100}, diffLimits(1.0))
	require.Error(t, err)
	assert.Equal(t, domain.KindDataUnavailable, domain.KindOf(err))
}

func TestCompute_Deterministic(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	positions := []domain.CurrentPosition{
		{Ticker: "A", Quantity: 10}, {Ticker: "B", Quantity: 20}, {Ticker: "C", Quantity: 5},
	}
	target := domain.TargetPortfolio{"B": 0.4, "C": 0.3, "D": 0.3}
	prices := map[string]float64{"A": 50, "B": 75, "C": 120, "D": 33}

	first, err := e.Compute(positions, target, 20000, prices, diffLimits(0.5))
	require.NoError(t, err)
	second, err := e.Compute(positions, target, 20000, prices, diffLimits(0.5))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
