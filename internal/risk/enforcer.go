// Package risk enforces position, concentration, turnover, and cash
// limits on candidate portfolios.
package risk

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
)

// maxClipIterations bounds the proportional redistribution loop.
// Hitting the bound means the limits are mutually unsatisfiable for
// this portfolio size.
const maxClipIterations = 100

// Enforcer applies risk limits to candidate portfolios
type Enforcer struct {
	log zerolog.Logger
}

// NewEnforcer creates a new risk constraint enforcer
func NewEnforcer(log zerolog.Logger) *Enforcer {
	return &Enforcer{log: log.With().Str("service", "risk").Logger()}
}

// Enforce clips the candidate portfolio to the limits or rejects it.
//
// Oversized weights are clipped to max_position_size with the excess
// redistributed proportionally across the uncapped remainder, repeated
// until stable. The input is never mutated. Post-clip top-3
// concentration above the limit is a hard rejection: redistributing
// further would just move the problem between names.
func (e *Enforcer) Enforce(candidate domain.TargetPortfolio, limits domain.RiskLimits) (domain.TargetPortfolio, error) {
	if err := limits.Validate(); err != nil {
		return nil, domain.WrapError(domain.KindConstraintViolation, "risk", "invalid risk limits", err)
	}

	clipped, iterations, err := clipPositions(candidate.Clone(), limits.MaxPositionSize)
	if err != nil {
		return nil, err
	}

	if top3 := topConcentration(clipped, 3); top3 > limits.MaxConcentrationTop3+domain.WeightSumTolerance {
		return nil, domain.NewError(domain.KindConstraintViolation, "risk",
			fmt.Sprintf("top-3 concentration %.4f exceeds limit %.4f after clipping", top3, limits.MaxConcentrationTop3))
	}

	if iterations > 0 {
		e.log.Info().
			Int("iterations", iterations).
			Int("positions", len(clipped)).
			Msg("Position weights clipped to cap")
	}

	return clipped, nil
}

// clipPositions caps weights at maxPosition, redistributing the excess
// proportionally across uncapped positions until no weight exceeds the
// cap. Returns the iteration count actually used.
func clipPositions(portfolio domain.TargetPortfolio, maxPosition float64) (domain.TargetPortfolio, int, error) {
	// A portfolio of n names cannot satisfy a cap below 1/n
	if float64(len(portfolio))*maxPosition < 1.0-domain.WeightSumTolerance {
		return nil, 0, domain.NewError(domain.KindConstraintViolation, "risk",
			fmt.Sprintf("%d positions cannot satisfy position cap %.4f", len(portfolio), maxPosition))
	}

	capped := make(map[string]bool, len(portfolio))

	for iter := 0; iter < maxClipIterations; iter++ {
		excess := 0.0
		uncappedSum := 0.0
		for _, ticker := range portfolio.Tickers() {
			w := portfolio[ticker]
			if w > maxPosition+domain.WeightSumTolerance {
				excess += w - maxPosition
				portfolio[ticker] = maxPosition
				capped[ticker] = true
			} else if !capped[ticker] {
				uncappedSum += w
			}
		}

		if excess <= domain.WeightSumTolerance {
			return portfolio, iter, nil
		}

		if uncappedSum <= 0 {
			return nil, 0, domain.NewError(domain.KindConstraintViolation, "risk",
				"position cap unsatisfiable: no uncapped weight left to absorb excess")
		}

		for _, ticker := range portfolio.Tickers() {
			if !capped[ticker] {
				portfolio[ticker] += excess * portfolio[ticker] / uncappedSum
			}
		}
	}

	return nil, 0, domain.NewError(domain.KindConstraintViolation, "risk",
		fmt.Sprintf("position clipping did not converge in %d iterations", maxClipIterations))
}

// topConcentration returns the combined weight of the n largest positions
func topConcentration(portfolio domain.TargetPortfolio, n int) float64 {
	weights := make([]float64, 0, len(portfolio))
	for _, w := range portfolio {
		weights = append(weights, w)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))

	total := 0.0
	for i := 0; i < n && i < len(weights); i++ {
		total += weights[i]
	}
	return total
}

// CheckCashFloor rejects a trade list whose net cash outflow would draw
// the account's cash below min_cash_balance. SELLs raise cash, BUYs
// consume it; both are valued at reference price. Only the trades can
// violate the floor: an empty or cash-raising batch always passes, even
// for an account that is already under it.
func (e *Enforcer) CheckCashFloor(trades []domain.TradeIntent, cashBalance float64, limits domain.RiskLimits) error {
	projected := cashBalance
	for _, trade := range trades {
		switch trade.Side {
		case domain.SideSell:
			projected += trade.Value()
		case domain.SideBuy:
			projected -= trade.Value()
		}
	}

	if projected >= cashBalance {
		return nil
	}
	if projected < limits.MinCashBalance {
		return domain.NewError(domain.KindConstraintViolation, "risk",
			fmt.Sprintf("projected cash %.2f below floor %.2f", projected, limits.MinCashBalance))
	}
	return nil
}
