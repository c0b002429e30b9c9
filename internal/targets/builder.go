// Package targets builds the candidate target portfolio from external
// ranking and weighting signals.
package targets

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/strategy"
)

// Builder turns ranker scores into a candidate weight map
type Builder struct {
	ranker   domain.RankingModel
	weighter domain.WeightingModel
	log      zerolog.Logger
}

// NewBuilder creates a new target portfolio builder
func NewBuilder(ranker domain.RankingModel, weighter domain.WeightingModel, log zerolog.Logger) *Builder {
	return &Builder{
		ranker:   ranker,
		weighter: weighter,
		log:      log.With().Str("service", "targets").Logger(),
	}
}

// Build produces the candidate portfolio for a strategy.
//
// Candidates are filtered to positive predicted-return scores, sorted
// descending, and capped at the strategy's max positions. The external
// weighting model is consulted only for strategies bound to it; its
// output is used when it covers at least half the selected tickers,
// renormalized over exactly those tickers. Everything else falls back
// to equal weighting. A dead ranker or an all-negative universe aborts
// the run: there is no sane fallback for missing scores.
func (b *Builder) Build(ctx context.Context, date string, universe []string, sel *domain.StrategySelection, features domain.MarketFeatures) (domain.TargetPortfolio, error) {
	scores, err := b.ranker.Rank(ctx, date, universe)
	if err != nil {
		return nil, domain.WrapError(domain.KindModelUnavailable, "targets", "ranking model failed", err)
	}

	selected := selectCandidates(scores, strategy.BindingFor(sel.Selected).MaxPositions)
	if len(selected) == 0 {
		return nil, domain.NewError(domain.KindModelUnavailable, "targets",
			"no candidate has a positive predicted-return score")
	}

	portfolio := b.weigh(ctx, date, selected, scores, sel, features)

	if err := portfolio.Validate(); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "targets", "built portfolio violates weight invariants", err)
	}

	b.log.Info().
		Str("date", date).
		Str("strategy", sel.Selected.String()).
		Int("universe", len(universe)).
		Int("positions", len(portfolio)).
		Msg("Target portfolio built")

	return portfolio, nil
}

// selectCandidates filters to positive scores, sorts descending, and
// takes the top maxPositions. Score ties break alphabetically so the
// cut is deterministic.
func selectCandidates(scores map[string]float64, maxPositions int) []string {
	candidates := make([]string, 0, len(scores))
	for ticker, score := range scores {
		if score > 0 {
			candidates = append(candidates, ticker)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := scores[candidates[i]], scores[candidates[j]]
		if si != sj {
			return si > sj
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > maxPositions {
		candidates = candidates[:maxPositions]
	}
	return candidates
}

// weigh resolves final weights for the selected tickers
func (b *Builder) weigh(ctx context.Context, date string, selected []string, scores map[string]float64, sel *domain.StrategySelection, features domain.MarketFeatures) domain.TargetPortfolio {
	binding := strategy.BindingFor(sel.Selected)
	if !binding.UseExternalWeights || b.weighter == nil {
		return equalWeight(selected)
	}

	candidateScores := make(map[string]float64, len(selected))
	for _, ticker := range selected {
		candidateScores[ticker] = scores[ticker]
	}

	external, err := b.weighter.Optimize(ctx, date, candidateScores, features)
	if err != nil {
		b.log.Warn().Err(err).Msg("Weighting model unavailable, falling back to equal weights")
		return equalWeight(selected)
	}

	return applyExternalWeights(selected, external, b.log)
}

// applyExternalWeights uses the external vector when it covers at least
// half the selected tickers by count, renormalized over exactly the
// selected set. Otherwise it falls back to equal weighting.
func applyExternalWeights(selected []string, external map[string]float64, log zerolog.Logger) domain.TargetPortfolio {
	covered := 0
	sum := 0.0
	for _, ticker := range selected {
		if w, ok := external[ticker]; ok && w > 0 {
			covered++
			sum += w
		}
	}

	if covered*2 < len(selected) || sum <= 0 {
		log.Warn().
			Int("covered", covered).
			Int("selected", len(selected)).
			Msg("External weight coverage below half, falling back to equal weights")
		return equalWeight(selected)
	}

	portfolio := make(domain.TargetPortfolio, len(selected))
	for _, ticker := range selected {
		w := external[ticker]
		if w < 0 {
			w = 0
		}
		portfolio[ticker] = w / sum
	}
	return portfolio
}

// equalWeight assigns 1/N to every selected ticker
func equalWeight(selected []string) domain.TargetPortfolio {
	portfolio := make(domain.TargetPortfolio, len(selected))
	w := 1.0 / float64(len(selected))
	for _, ticker := range selected {
		portfolio[ticker] = w
	}
	return portfolio
}
