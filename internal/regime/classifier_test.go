package regime

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/domain"
)

// mockFeed returns canned series and breadth data
type mockFeed struct {
	series  []domain.OHLCV
	breadth *domain.BreadthStats
	err     error
}

func (m *mockFeed) GetSeries(ctx context.Context, benchmark string, window int) ([]domain.OHLCV, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.series, nil
}

func (m *mockFeed) GetBreadth(ctx context.Context, date string) (*domain.BreadthStats, error) {
	if m.breadth == nil {
		return &domain.BreadthStats{AdvanceDeclineRatio: 1.0}, nil
	}
	return m.breadth, nil
}

func (m *mockFeed) GetYields(ctx context.Context, date string) (*domain.YieldStats, error) {
	return &domain.YieldStats{ShortRate: 0.05, LongRate: 0.04}, nil
}

func (m *mockFeed) GetPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// memStore is an in-memory SnapshotStore
type memStore struct {
	latest *domain.RegimeSnapshot
	saved  []domain.RegimeSnapshot
}

func (m *memStore) Latest(benchmark string) (*domain.RegimeSnapshot, error) {
	return m.latest, nil
}

func (m *memStore) Save(benchmark string, snap *domain.RegimeSnapshot) error {
	cp := *snap
	m.saved = append(m.saved, cp)
	m.latest = &cp
	return nil
}

// syntheticSeries builds a daily candle series from a close function
func syntheticSeries(days int, closeAt func(i int) float64) []domain.OHLCV {
	series := make([]domain.OHLCV, days)
	for i := 0; i < days; i++ {
		c := closeAt(i)
		series[i] = domain.OHLCV{
			Date:   fmt.Sprintf("2026-%02d-%02d", 1+i/28, 1+i%28),
			Open:   c,
			High:   c * 1.002,
			Low:    c * 0.998,
			Close:  c,
			Volume: 1_000_000,
		}
	}
	return series
}

func newTestClassifier(feed domain.MarketDataFeed, store SnapshotStore, hysteresis int) *Classifier {
	return NewClassifier(feed, store, 20, 252, hysteresis, zerolog.Nop())
}

func TestEvaluate_ShortSeriesIsDataUnavailable(t *testing.T) {
	feed := &mockFeed{series: syntheticSeries(150, func(i int) float64 { return 100 + float64(i) })}
	store := &memStore{}
	c := newTestClassifier(feed, store, 3)

	_, err := c.Evaluate(context.Background(), "SPY", "2026-06-01")
	require.Error(t, err)
	assert.Equal(t, domain.KindDataUnavailable, domain.KindOf(err))
	assert.Equal(t, "regime", domain.StageOf(err))
	assert.Empty(t, store.saved, "no snapshot should be persisted on failure")
}

func TestEvaluate_FeedErrorIsDataUnavailable(t *testing.T) {
	feed := &mockFeed{err: fmt.Errorf("connection refused")}
	c := newTestClassifier(feed, &memStore{}, 3)

	_, err := c.Evaluate(context.Background(), "SPY", "2026-06-01")
	require.Error(t, err)
	assert.Equal(t, domain.KindDataUnavailable, domain.KindOf(err))
}

func TestEvaluate_OversizedVolatilityWindowIsDataUnavailable(t *testing.T) {
	// 252 candles yield 251 returns; a 300-day window can never fill
	feed := &mockFeed{series: syntheticSeries(252, func(i int) float64 { return 100 + 0.2*float64(i) })}
	store := &memStore{}
	c := NewClassifier(feed, store, 300, 252, 3, zerolog.Nop())

	_, err := c.Evaluate(context.Background(), "SPY", "2026-06-01")
	require.Error(t, err)
	assert.Equal(t, domain.KindDataUnavailable, domain.KindOf(err))
	assert.Empty(t, store.saved)
}

func TestEvaluate_SteadyUptrendIsBull(t *testing.T) {
	// Smooth linear rise keeps price above both moving averages with the
	// fast one above the slow one
	feed := &mockFeed{series: syntheticSeries(252, func(i int) float64 {
		return 100 + 0.2*float64(i)
	})}
	store := &memStore{}
	c := newTestClassifier(feed, store, 3)

	snap, err := c.Evaluate(context.Background(), "SPY", "2026-06-01")
	require.NoError(t, err)
	assert.Equal(t, domain.TrendBull, snap.TrendBucket)
	assert.Equal(t, snap.RawLabel, snap.Label, "first evaluation emits the raw label")
	assert.Equal(t, 1, snap.Streak)
	require.Len(t, store.saved, 1)
}

func TestEvaluate_SteadyDowntrendIsBear(t *testing.T) {
	feed := &mockFeed{series: syntheticSeries(252, func(i int) float64 {
		return 200 - 0.2*float64(i)
	})}
	store := &memStore{}
	c := newTestClassifier(feed, store, 3)

	snap, err := c.Evaluate(context.Background(), "SPY", "2026-06-01")
	require.NoError(t, err)
	assert.Equal(t, domain.TrendBear, snap.TrendBucket)
}

func TestEvaluate_DeterministicForSameInputs(t *testing.T) {
	mk := func() *domain.RegimeSnapshot {
		feed := &mockFeed{series: syntheticSeries(252, func(i int) float64 {
			return 100 + 10*math.Sin(float64(i)/15) + 0.05*float64(i)
		})}
		c := newTestClassifier(feed, &memStore{}, 3)
		snap, err := c.Evaluate(context.Background(), "SPY", "2026-06-01")
		require.NoError(t, err)
		return snap
	}

	a, b := mk(), mk()
	assert.Equal(t, a.Label, b.Label)
	assert.Equal(t, a.RawLabel, b.RawLabel)
	assert.Equal(t, a.VolatilityBucket, b.VolatilityBucket)
	assert.Equal(t, a.TrendBucket, b.TrendBucket)
	assert.Equal(t, a.Confidence, b.Confidence)
}

func TestHysteresis_FlipSuppressedUntilStreak(t *testing.T) {
	c := newTestClassifier(&mockFeed{}, &memStore{}, 3)

	// Established bull regime
	prev := &domain.RegimeSnapshot{Label: "bull_low_vol", RawLabel: "bull_low_vol", Streak: 5}
	store := &memStore{latest: prev}
	c.store = store

	// First bear reading: raw changes, emitted label does not
	snap := &domain.RegimeSnapshot{RawLabel: "bear_high_vol"}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.Equal(t, "bull_low_vol", snap.Label)
	assert.Equal(t, 1, snap.Streak)
	store.latest = snap

	// Second consecutive bear reading: still suppressed
	snap = &domain.RegimeSnapshot{RawLabel: "bear_high_vol"}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.Equal(t, "bull_low_vol", snap.Label)
	assert.Equal(t, 2, snap.Streak)
	store.latest = snap

	// Third consecutive bear reading: streak reaches N, label flips
	snap = &domain.RegimeSnapshot{RawLabel: "bear_high_vol"}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.Equal(t, "bear_high_vol", snap.Label)
	assert.Equal(t, 3, snap.Streak)
}

func TestHysteresis_SuppressedLabelCarriesReducedConfidence(t *testing.T) {
	c := newTestClassifier(&mockFeed{}, &memStore{}, 3)
	store := &memStore{latest: &domain.RegimeSnapshot{Label: "bull_low_vol", RawLabel: "bull_low_vol", Streak: 5}}
	c.store = store

	// A suppressed reading hands back the previous label at reduced
	// confidence; once the streak completes, full confidence returns
	snap := &domain.RegimeSnapshot{RawLabel: "bear_high_vol", Confidence: 0.9}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.Equal(t, "bull_low_vol", snap.Label)
	assert.InDelta(t, 0.6, snap.Confidence, 1e-9)
	store.latest = snap

	snap = &domain.RegimeSnapshot{RawLabel: "bear_high_vol", Confidence: 0.9}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.InDelta(t, 0.3, snap.Confidence, 1e-9)
	store.latest = snap

	snap = &domain.RegimeSnapshot{RawLabel: "bear_high_vol", Confidence: 0.9}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.Equal(t, "bear_high_vol", snap.Label)
	assert.Equal(t, 0.9, snap.Confidence)
}

func TestHysteresis_OscillationNeverFlips(t *testing.T) {
	c := newTestClassifier(&mockFeed{}, &memStore{}, 3)
	store := &memStore{latest: &domain.RegimeSnapshot{Label: "bull_low_vol", RawLabel: "bull_low_vol", Streak: 5}}
	c.store = store

	// Alternating raw labels never build a streak of 3
	raws := []string{"bear_high_vol", "bull_low_vol", "bear_high_vol", "bull_low_vol", "bear_high_vol"}
	for _, raw := range raws {
		snap := &domain.RegimeSnapshot{RawLabel: raw}
		require.NoError(t, c.applyHysteresis("SPY", snap))
		assert.Equal(t, "bull_low_vol", snap.Label)
		store.latest = snap
	}
}

func TestHysteresis_ReturnToEmittedLabelResetsImmediately(t *testing.T) {
	c := newTestClassifier(&mockFeed{}, &memStore{}, 3)

	// One bear reading interrupted the bull streak; raw returns to the
	// still-emitted bull label and is accepted at once
	store := &memStore{latest: &domain.RegimeSnapshot{Label: "bull_low_vol", RawLabel: "bear_high_vol", Streak: 1}}
	c.store = store

	snap := &domain.RegimeSnapshot{RawLabel: "bull_low_vol"}
	require.NoError(t, c.applyHysteresis("SPY", snap))
	assert.Equal(t, "bull_low_vol", snap.Label)
	assert.Equal(t, 1, snap.Streak)
}

func TestLabelTable_TotalCoverage(t *testing.T) {
	trends := []domain.TrendBucket{domain.TrendBull, domain.TrendBear, domain.TrendSideways}
	vols := []domain.VolatilityBucket{domain.VolLow, domain.VolMedium, domain.VolHigh, domain.VolExtreme}

	seen := make(map[string]bool)
	for _, trend := range trends {
		for _, vol := range vols {
			label := Label(trend, vol)
			assert.NotEmpty(t, label, "trend=%s vol=%s", trend, vol)
			seen[label] = true
		}
	}

	// 9 grid labels + crisis
	assert.Len(t, seen, 10)
	assert.True(t, seen[CrisisLabel])
	assert.Equal(t, CrisisLabel, Label(domain.TrendBull, domain.VolExtreme))
	assert.Equal(t, CrisisLabel, Label(domain.TrendBear, domain.VolExtreme))
}

func TestVolConfidence_Bounds(t *testing.T) {
	for _, p := range []float64{0, 0.1, 0.25, 0.42, 0.6, 0.75, 0.9, 1.0} {
		conf := volConfidence(p)
		assert.GreaterOrEqual(t, conf, 0.0)
		assert.LessOrEqual(t, conf, 1.0)
	}
	// Sitting exactly on a boundary means zero confidence
	assert.Equal(t, 0.0, volConfidence(0.25))
	assert.Equal(t, 0.0, volConfidence(0.60))
}
