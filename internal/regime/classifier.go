// Package regime classifies overall market conditions into discrete
// regime labels from benchmark price action and market breadth.
//
// Classification happens in three steps: realized volatility is bucketed
// against its own trailing percentile distribution, trend is bucketed
// from 50/200-day moving averages, and the pair is resolved through an
// immutable lookup table. A hysteresis gate suppresses label flapping:
// a new raw label must hold for N consecutive evaluations before it is
// emitted.
package regime

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/steward/internal/domain"
)

const (
	// minSeriesLength is the shortest benchmark window the classifier
	// accepts; the 200-day moving average needs at least this much.
	minSeriesLength = 200

	// Percentile boundaries for the volatility buckets
	volLowBound     = 0.25
	volMediumBound  = 0.60
	volHighBound    = 0.90

	// tradingDaysPerYear annualizes daily volatility
	tradingDaysPerYear = 252.0
)

// SnapshotStore persists regime snapshots and returns the latest one
// for hysteresis continuity across restarts.
type SnapshotStore interface {
	Latest(benchmark string) (*domain.RegimeSnapshot, error)
	Save(benchmark string, snap *domain.RegimeSnapshot) error
}

// Classifier evaluates the market regime for a benchmark
type Classifier struct {
	feed              domain.MarketDataFeed
	store             SnapshotStore
	volatilityWindow  int
	seriesWindow      int
	hysteresisPeriods int
	log               zerolog.Logger
}

// NewClassifier creates a new regime classifier
func NewClassifier(feed domain.MarketDataFeed, store SnapshotStore, volWindow, seriesWindow, hysteresis int, log zerolog.Logger) *Classifier {
	return &Classifier{
		feed:              feed,
		store:             store,
		volatilityWindow:  volWindow,
		seriesWindow:      seriesWindow,
		hysteresisPeriods: hysteresis,
		log:               log.With().Str("service", "regime").Logger(),
	}
}

// Evaluate classifies the regime for a benchmark on a date.
// The returned snapshot is persisted before it is returned, so two
// evaluations of the same (benchmark, date) produce identical results.
func (c *Classifier) Evaluate(ctx context.Context, benchmark, date string) (*domain.RegimeSnapshot, error) {
	series, err := c.feed.GetSeries(ctx, benchmark, c.seriesWindow)
	if err != nil {
		return nil, domain.WrapError(domain.KindDataUnavailable, "regime", "failed to fetch benchmark series", err)
	}
	if len(series) < minSeriesLength {
		return nil, domain.NewError(domain.KindDataUnavailable, "regime",
			fmt.Sprintf("benchmark series too short: %d days, need %d", len(series), minSeriesLength))
	}

	breadth, err := c.feed.GetBreadth(ctx, date)
	if err != nil {
		return nil, domain.WrapError(domain.KindDataUnavailable, "regime", "failed to fetch breadth stats", err)
	}

	closes := make([]float64, len(series))
	for i, candle := range series {
		if candle.Close <= 0 {
			return nil, domain.NewError(domain.KindDataUnavailable, "regime",
				fmt.Sprintf("non-positive close %.4f on %s", candle.Close, candle.Date))
		}
		closes[i] = candle.Close
	}

	volBucket, percentile, currentVol, err := c.classifyVolatility(closes)
	if err != nil {
		return nil, err
	}
	trendBucket := classifyTrend(closes)

	rawLabel := Label(trendBucket, volBucket)
	confidence := volConfidence(percentile)

	snap := &domain.RegimeSnapshot{
		Date:             date,
		VolatilityBucket: volBucket,
		TrendBucket:      trendBucket,
		BreadthRatio:     breadth.AdvanceDeclineRatio,
		RawLabel:         rawLabel,
		Confidence:       confidence,
	}

	if err := c.applyHysteresis(benchmark, snap); err != nil {
		return nil, err
	}

	if err := c.store.Save(benchmark, snap); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "regime", "failed to persist regime snapshot", err)
	}

	c.log.Info().
		Str("benchmark", benchmark).
		Str("date", date).
		Str("label", snap.Label).
		Str("raw_label", snap.RawLabel).
		Int("streak", snap.Streak).
		Float64("realized_vol", currentVol).
		Float64("vol_percentile", percentile).
		Float64("confidence", snap.Confidence).
		Msg("Regime evaluated")

	return snap, nil
}

// classifyVolatility buckets current realized volatility against the
// trailing distribution of rolling realized volatilities.
func (c *Classifier) classifyVolatility(closes []float64) (domain.VolatilityBucket, float64, float64, error) {
	returns := logReturns(closes)

	// Rolling annualized volatility over the configured window
	window := c.volatilityWindow
	if window > len(returns) {
		return "", 0, 0, domain.NewError(domain.KindDataUnavailable, "regime",
			fmt.Sprintf("volatility window %d exceeds %d available returns", window, len(returns)))
	}
	vols := make([]float64, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		sd := stat.StdDev(returns[i-window:i], nil)
		vols = append(vols, sd*math.Sqrt(tradingDaysPerYear))
	}

	current := vols[len(vols)-1]

	// Percentile rank of current vol within its own history
	below := 0
	for _, v := range vols {
		if v < current {
			below++
		}
	}
	percentile := float64(below) / float64(len(vols))

	var bucket domain.VolatilityBucket
	switch {
	case percentile < volLowBound:
		bucket = domain.VolLow
	case percentile < volMediumBound:
		bucket = domain.VolMedium
	case percentile < volHighBound:
		bucket = domain.VolHigh
	default:
		bucket = domain.VolExtreme
	}

	return bucket, percentile, current, nil
}

// classifyTrend buckets price against its 50/200-day moving averages
func classifyTrend(closes []float64) domain.TrendBucket {
	sma50 := talib.Sma(closes, 50)
	sma200 := talib.Sma(closes, 200)

	last := len(closes) - 1
	price := closes[last]
	fast := sma50[last]
	slow := sma200[last]

	switch {
	case price > fast && price > slow && fast > slow:
		return domain.TrendBull
	case price < fast && price < slow:
		return domain.TrendBear
	default:
		return domain.TrendSideways
	}
}

// applyHysteresis resolves the emitted label from the raw label and the
// previous snapshot. A raw label is emitted once it has held for N
// consecutive evaluations; until then the previous emitted label sticks
// with its confidence eroded by the streak building against it.
func (c *Classifier) applyHysteresis(benchmark string, snap *domain.RegimeSnapshot) error {
	prev, err := c.store.Latest(benchmark)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "regime", "failed to load previous regime snapshot", err)
	}

	if prev == nil {
		// First ever evaluation: no history to defend, emit immediately
		snap.Streak = 1
		snap.Label = snap.RawLabel
		return nil
	}

	if snap.RawLabel == prev.RawLabel {
		snap.Streak = prev.Streak + 1
	} else {
		snap.Streak = 1
	}

	if snap.RawLabel == prev.Label || snap.Streak >= c.hysteresisPeriods {
		snap.Label = snap.RawLabel
	} else {
		snap.Label = prev.Label
		snap.Confidence *= 1 - float64(snap.Streak)/float64(c.hysteresisPeriods)
	}

	return nil
}

// logReturns computes daily log returns from a close series
func logReturns(closes []float64) []float64 {
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = math.Log(closes[i] / closes[i-1])
	}
	return returns
}

// volConfidence maps a volatility percentile to a [0,1] confidence score
// from its distance to the nearest bucket boundary. Mid-bucket readings
// score high, boundary-hugging readings score low.
func volConfidence(percentile float64) float64 {
	boundaries := []float64{volLowBound, volMediumBound, volHighBound}
	nearest := math.Inf(1)
	for _, b := range boundaries {
		if d := math.Abs(percentile - b); d < nearest {
			nearest = d
		}
	}
	conf := nearest / 0.175 // half the widest bucket
	if conf > 1 {
		conf = 1
	}
	return conf
}
