// Package diff converts a clipped target portfolio and current holdings
// into an ordered trade list.
package diff

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
)

// Result is the diff output: the ordered trade list plus its turnover
type Result struct {
	Trades   []domain.TradeIntent
	Turnover float64
	// Scaled is true when the turnover cap forced a pro-rata scale-down
	Scaled bool
}

// Engine computes trade intents from target weights
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a new trade diff engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("service", "diff").Logger()}
}

// Compute diffs current holdings against the target portfolio.
//
// Target share counts floor the fractional ideal, so the engine never
// overshoots a weight. Trades order SELLs before BUYs (sales fund the
// purchases), alphabetically within each side. When turnover exceeds
// the limit every quantity is scaled down by the same ratio and
// re-floored; scaling is pro-rata across all trades and applied at most
// once, and reapplying it to its own output is a no-op.
func (e *Engine) Compute(positions []domain.CurrentPosition, target domain.TargetPortfolio, totalValue float64, prices map[string]float64, limits domain.RiskLimits) (*Result, error) {
	if totalValue <= 0 {
		return nil, domain.NewError(domain.KindDataUnavailable, "diff",
			fmt.Sprintf("non-positive account value %.2f", totalValue))
	}

	current := make(map[string]int64, len(positions))
	for _, pos := range positions {
		current[pos.Ticker] = pos.Quantity
	}

	// Every ticker on either side of the diff needs a price
	tickers := unionTickers(current, target)
	for _, ticker := range tickers {
		if price, ok := prices[ticker]; !ok || price <= 0 {
			return nil, domain.NewError(domain.KindDataUnavailable, "diff",
				fmt.Sprintf("no usable price for %s", ticker))
		}
	}

	var trades []domain.TradeIntent
	for _, ticker := range tickers {
		price := prices[ticker]
		targetShares := int64(math.Floor(target[ticker] * totalValue / price))
		delta := targetShares - current[ticker]
		if delta == 0 {
			continue
		}

		side := domain.SideBuy
		if delta < 0 {
			side = domain.SideSell
			delta = -delta
		}
		trades = append(trades, domain.TradeIntent{
			Ticker:         ticker,
			Side:           side,
			Quantity:       delta,
			ReferencePrice: price,
		})
	}

	orderTrades(trades)
	result := &Result{Trades: trades, Turnover: turnover(trades, totalValue)}

	if result.Turnover > limits.MaxTurnover {
		ratio := limits.MaxTurnover / result.Turnover
		result.Trades = scaleTrades(trades, ratio)
		result.Turnover = turnover(result.Trades, totalValue)
		result.Scaled = true

		e.log.Info().
			Float64("ratio", ratio).
			Float64("turnover", result.Turnover).
			Float64("max_turnover", limits.MaxTurnover).
			Msg("Trades scaled down to turnover cap")
	}

	return result, nil
}

// unionTickers returns the sorted union of held and targeted tickers
func unionTickers(current map[string]int64, target domain.TargetPortfolio) []string {
	seen := make(map[string]bool, len(current)+len(target))
	for t := range current {
		seen[t] = true
	}
	for t := range target {
		seen[t] = true
	}
	tickers := make([]string, 0, len(seen))
	for t := range seen {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// orderTrades sorts SELLs before BUYs, alphabetically within each side
func orderTrades(trades []domain.TradeIntent) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Side != trades[j].Side {
			return trades[i].Side == domain.SideSell
		}
		return trades[i].Ticker < trades[j].Ticker
	})
}

// turnover is total traded notional over account value
func turnover(trades []domain.TradeIntent, totalValue float64) float64 {
	notional := 0.0
	for _, trade := range trades {
		notional += trade.Value()
	}
	return notional / totalValue
}

// scaleTrades multiplies every quantity by ratio and re-floors,
// dropping trades that round to zero. Flooring means the scaled list
// never exceeds the intended turnover, and a second application with
// ratio >= 1 leaves quantities untouched.
func scaleTrades(trades []domain.TradeIntent, ratio float64) []domain.TradeIntent {
	scaled := make([]domain.TradeIntent, 0, len(trades))
	for _, trade := range trades {
		qty := int64(math.Floor(float64(trade.Quantity) * ratio))
		if qty == 0 {
			continue
		}
		trade.Quantity = qty
		scaled = append(scaled, trade)
	}
	return scaled
}
