package targets

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/domain"
)

type mockRanker struct {
	scores map[string]float64
	err    error
}

func (m *mockRanker) Rank(ctx context.Context, date string, universe []string) (map[string]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.scores, nil
}

type mockWeighter struct {
	weights map[string]float64
	err     error
	calls   int
}

func (m *mockWeighter) Optimize(ctx context.Context, date string, candidates map[string]float64, features domain.MarketFeatures) (map[string]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.weights, nil
}

func selection(s domain.Strategy) *domain.StrategySelection {
	return &domain.StrategySelection{
		Date:        "2026-06-01",
		RegimeLabel: "bull_low_vol",
		Selected:    s,
		Eligible:    []domain.Strategy{s},
	}
}

func TestBuild_FiltersNegativeScoresAndEqualWeights(t *testing.T) {
	ranker := &mockRanker{scores: map[string]float64{
		"AAPL": 0.10, "MSFT": 0.05, "XOM": -0.02, "GE": 0.0,
	}}
	// defensive_value never consults the external weighter
	b := NewBuilder(ranker, &mockWeighter{}, zerolog.Nop())

	tp, err := b.Build(context.Background(), "2026-06-01",
		[]string{"AAPL", "MSFT", "XOM", "GE"},
		selection(domain.StrategyDefensiveValue), domain.MarketFeatures{})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, tp.Tickers())
	assert.InDelta(t, 0.5, tp["AAPL"], 1e-9)
	assert.InDelta(t, 0.5, tp["MSFT"], 1e-9)
	require.NoError(t, tp.Validate())
}

func TestBuild_CapsAtMaxPositions(t *testing.T) {
	scores := make(map[string]float64)
	for i := 0; i < 40; i++ {
		scores[fmt.Sprintf("T%02d", i)] = 1.0 + float64(i)
	}
	b := NewBuilder(&mockRanker{scores: scores}, nil, zerolog.Nop())

	// capital_preservation holds at most 10 names
	tp, err := b.Build(context.Background(), "2026-06-01", nil,
		selection(domain.StrategyCapitalPreservation), domain.MarketFeatures{})
	require.NoError(t, err)

	assert.Len(t, tp, 10)
	// Highest scores survive the cut
	assert.Contains(t, tp, "T39")
	assert.Contains(t, tp, "T30")
	assert.NotContains(t, tp, "T29")
}

func TestBuild_ExternalWeightsRenormalizedOverSelected(t *testing.T) {
	ranker := &mockRanker{scores: map[string]float64{"AAPL": 0.3, "MSFT": 0.2, "GOOG": 0.1}}
	// Weighter covers 2 of 3 selected tickers (>= half), plus a stray
	// ticker outside the selection that must be ignored
	weighter := &mockWeighter{weights: map[string]float64{"AAPL": 0.6, "MSFT": 0.2, "TSLA": 0.9}}
	b := NewBuilder(ranker, weighter, zerolog.Nop())

	tp, err := b.Build(context.Background(), "2026-06-01", nil,
		selection(domain.StrategyGrowthLargecap), domain.MarketFeatures{})
	require.NoError(t, err)

	require.NoError(t, tp.Validate())
	assert.NotContains(t, tp, "TSLA")
	// 0.6 and 0.2 renormalize to 0.75 / 0.25; GOOG zero-fills
	assert.InDelta(t, 0.75, tp["AAPL"], 1e-9)
	assert.InDelta(t, 0.25, tp["MSFT"], 1e-9)
	assert.InDelta(t, 0.0, tp["GOOG"], 1e-9)
}

func TestBuild_LowCoverageFallsBackToEqualWeight(t *testing.T) {
	ranker := &mockRanker{scores: map[string]float64{"AAPL": 0.3, "MSFT": 0.2, "GOOG": 0.1, "AMZN": 0.05}}
	// Covers 1 of 4 selected tickers, below the half threshold
	weighter := &mockWeighter{weights: map[string]float64{"AAPL": 1.0}}
	b := NewBuilder(ranker, weighter, zerolog.Nop())

	tp, err := b.Build(context.Background(), "2026-06-01", nil,
		selection(domain.StrategyGrowthLargecap), domain.MarketFeatures{})
	require.NoError(t, err)

	for _, ticker := range tp.Tickers() {
		assert.InDelta(t, 0.25, tp[ticker], 1e-9)
	}
}

func TestBuild_WeighterErrorFallsBackToEqualWeight(t *testing.T) {
	ranker := &mockRanker{scores: map[string]float64{"AAPL": 0.3, "MSFT": 0.2}}
	weighter := &mockWeighter{err: fmt.Errorf("optimizer timeout")}
	b := NewBuilder(ranker, weighter, zerolog.Nop())

	tp, err := b.Build(context.Background(), "2026-06-01", nil,
		selection(domain.StrategyGrowthLargecap), domain.MarketFeatures{})
	require.NoError(t, err)

	assert.Equal(t, 1, weighter.calls)
	assert.InDelta(t, 0.5, tp["AAPL"], 1e-9)
	assert.InDelta(t, 0.5, tp["MSFT"], 1e-9)
}

func TestBuild_AllNegativeScoresIsModelUnavailable(t *testing.T) {
	ranker := &mockRanker{scores: map[string]float64{"AAPL": -0.1, "MSFT": -0.3}}
	b := NewBuilder(ranker, nil, zerolog.Nop())

	_, err := b.Build(context.Background(), "2026-06-01", nil,
		selection(domain.StrategyBalancedCore), domain.MarketFeatures{})
	require.Error(t, err)
	assert.Equal(t, domain.KindModelUnavailable, domain.KindOf(err))
	assert.Equal(t, "targets", domain.StageOf(err))
}

func TestBuild_RankerErrorIsModelUnavailable(t *testing.T) {
	b := NewBuilder(&mockRanker{err: fmt.Errorf("connection refused")}, nil, zerolog.Nop())

	_, err := b.Build(context.Background(), "2026-06-01", nil,
		selection(domain.StrategyBalancedCore), domain.MarketFeatures{})
	require.Error(t, err)
	assert.Equal(t, domain.KindModelUnavailable, domain.KindOf(err))
}
