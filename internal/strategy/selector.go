// Package strategy selects the investment strategy for a regime from a
// fixed eligibility table and trailing per-strategy performance.
package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
)

// PerformanceStore provides the trailing per-strategy performance table
type PerformanceStore interface {
	// Performance returns the latest performance row per strategy
	Performance() (map[domain.Strategy]domain.StrategyPerformance, error)
}

// SelectionStore persists strategy selections for audit
type SelectionStore interface {
	SaveSelection(accountID string, sel *domain.StrategySelection) error
}

// Selector picks a strategy for a regime label
type Selector struct {
	perf PerformanceStore
	log  zerolog.Logger
}

// NewSelector creates a new strategy selector
func NewSelector(perf PerformanceStore, log zerolog.Logger) *Selector {
	return &Selector{
		perf: perf,
		log:  log.With().Str("service", "strategy").Logger(),
	}
}

// Select resolves the strategy for a regime label.
//
// Selection runs over the label's eligible list: strategies whose
// trailing drawdown breaches the account's MaxDrawdown limit are
// filtered out, and the survivor with the highest 30-day Sharpe wins.
// Ties break on lower drawdown, then on table order. If the drawdown
// filter eliminates everyone, the most defensive eligible strategy
// (last in table order) is selected with zero confidence.
func (s *Selector) Select(date, regimeLabel string, limits domain.RiskLimits) (*domain.StrategySelection, error) {
	eligible, ok := Eligible(regimeLabel)
	if !ok {
		return nil, domain.NewError(domain.KindInternal, "strategy",
			fmt.Sprintf("regime label %q has no eligibility entry", regimeLabel))
	}

	perf, err := s.perf.Performance()
	if err != nil {
		return nil, domain.WrapError(domain.KindDataUnavailable, "strategy",
			"failed to load strategy performance table", err)
	}

	// Drawdown gate; strategies without a performance row are treated
	// as untested and excluded the same way
	var survivors []domain.Strategy
	for _, st := range eligible {
		p, ok := perf[st]
		if !ok {
			continue
		}
		if limits.MaxDrawdown > 0 && p.Drawdown > limits.MaxDrawdown {
			continue
		}
		survivors = append(survivors, st)
	}

	sel := &domain.StrategySelection{
		Date:        date,
		RegimeLabel: regimeLabel,
		Eligible:    eligible,
	}

	if len(survivors) == 0 {
		sel.Selected = eligible[len(eligible)-1]
		sel.Confidence = 0
		s.log.Warn().
			Str("regime", regimeLabel).
			Str("selected", sel.Selected.String()).
			Msg("All eligible strategies failed the drawdown gate, falling back to most defensive")
		return sel, nil
	}

	// Highest Sharpe wins; survivors keep table order so the index scan
	// resolves ties deterministically
	best := survivors[0]
	for _, st := range survivors[1:] {
		if better(perf[st], perf[best]) {
			best = st
		}
	}

	sel.Selected = best
	sel.Confidence = confidence(best, survivors, perf)

	s.log.Info().
		Str("regime", regimeLabel).
		Str("selected", best.String()).
		Float64("sharpe_30d", perf[best].Sharpe30D).
		Float64("confidence", sel.Confidence).
		Int("eligible", len(eligible)).
		Int("survivors", len(survivors)).
		Msg("Strategy selected")

	return sel, nil
}

// better reports whether candidate a should replace incumbent b.
// Strictly higher Sharpe wins; an exact Sharpe tie goes to the lower
// drawdown; a full tie keeps the incumbent (earlier table order).
func better(a, b domain.StrategyPerformance) bool {
	if a.Sharpe30D != b.Sharpe30D {
		return a.Sharpe30D > b.Sharpe30D
	}
	return a.Drawdown < b.Drawdown
}

// confidence scores the winner's Sharpe margin over the runner-up,
// normalized to one Sharpe unit and clamped to [0,1]. A single survivor
// scores zero: there was no contest to win.
func confidence(winner domain.Strategy, survivors []domain.Strategy, perf map[domain.Strategy]domain.StrategyPerformance) float64 {
	if len(survivors) < 2 {
		return 0
	}

	runnerUp := -1.0
	first := true
	for _, st := range survivors {
		if st == winner {
			continue
		}
		if first || perf[st].Sharpe30D > runnerUp {
			runnerUp = perf[st].Sharpe30D
			first = false
		}
	}

	margin := perf[winner].Sharpe30D - runnerUp
	if margin < 0 {
		margin = 0
	}
	if margin > 1 {
		margin = 1
	}
	return margin
}
