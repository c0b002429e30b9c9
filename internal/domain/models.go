// Package domain holds the pure decision-engine types shared across modules.
// Nothing in this package touches infrastructure; repositories and clients
// depend on it, never the other way around.
package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// VolatilityBucket classifies realized volatility against its own
// historical percentile distribution.
type VolatilityBucket string

const (
	VolLow     VolatilityBucket = "low"
	VolMedium  VolatilityBucket = "medium"
	VolHigh    VolatilityBucket = "high"
	VolExtreme VolatilityBucket = "extreme"
)

// TrendBucket classifies benchmark price against its 50/200-day moving averages.
type TrendBucket string

const (
	TrendBull     TrendBucket = "bull"
	TrendBear     TrendBucket = "bear"
	TrendSideways TrendBucket = "sideways"
)

// RegimeSnapshot is the daily output of the regime classifier.
// Immutable once written.
type RegimeSnapshot struct {
	Date             string           // YYYY-MM-DD
	VolatilityBucket VolatilityBucket
	TrendBucket      TrendBucket
	BreadthRatio     float64 // advance/decline ratio
	Label            string  // emitted label (post-hysteresis)
	RawLabel         string  // raw classification before hysteresis
	Streak           int     // consecutive evaluations the raw label has held
	Confidence       float64 // [0,1]
}

// BreadthStats holds market breadth statistics for a single date
type BreadthStats struct {
	AdvanceDeclineRatio float64
	NewHighsLowsRatio   float64
}

// YieldStats holds treasury yields captured alongside a regime evaluation
type YieldStats struct {
	ShortRate float64 // e.g. 3-month
	LongRate  float64 // e.g. 10-year
}

// OHLCV is a single daily candle from the market data feed
type OHLCV struct {
	Date   string  `msgpack:"date"`
	Open   float64 `msgpack:"open"`
	High   float64 `msgpack:"high"`
	Low    float64 `msgpack:"low"`
	Close  float64 `msgpack:"close"`
	Volume int64   `msgpack:"volume"`
}

// StrategyPerformance is one row of the trailing per-strategy performance table
type StrategyPerformance struct {
	Strategy   Strategy
	Sharpe30D  float64
	Drawdown   float64 // positive fraction, 0.12 = 12% drawdown
	WinRate    float64
	AsOf       string
}

// StrategySelection is the output of the strategy selector.
// Invariant: Selected is always one of Eligible.
type StrategySelection struct {
	Date        string
	RegimeLabel string
	Selected    Strategy
	Confidence  float64
	Eligible    []Strategy
}

// TargetPortfolio maps ticker to weight. Weights are in [0,1], tickers
// unique, and the sum is 1.0 within WeightSumTolerance. Superseded per
// rebalance attempt, never mutated in place.
type TargetPortfolio map[string]float64

// WeightSumTolerance is the acceptable deviation of a weight sum from 1.0
const WeightSumTolerance = 1e-6

// Tickers returns the portfolio tickers in sorted order for deterministic
// iteration.
func (tp TargetPortfolio) Tickers() []string {
	tickers := make([]string, 0, len(tp))
	for t := range tp {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// Sum returns the total weight
func (tp TargetPortfolio) Sum() float64 {
	total := 0.0
	for _, w := range tp {
		total += w
	}
	return total
}

// Validate checks the portfolio invariants: non-negative weights summing to 1
func (tp TargetPortfolio) Validate() error {
	if len(tp) == 0 {
		return fmt.Errorf("target portfolio is empty")
	}
	for ticker, w := range tp {
		if w < 0 {
			return fmt.Errorf("negative weight %.6f for %s", w, ticker)
		}
		if w > 1 {
			return fmt.Errorf("weight %.6f for %s exceeds 1", w, ticker)
		}
	}
	if sum := tp.Sum(); math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("weights sum to %.8f, expected 1.0", sum)
	}
	return nil
}

// Clone returns a copy so a superseding attempt never mutates its predecessor
func (tp TargetPortfolio) Clone() TargetPortfolio {
	out := make(TargetPortfolio, len(tp))
	for t, w := range tp {
		out[t] = w
	}
	return out
}

// CurrentPosition is a holding owned by the brokerage/ledger collaborator.
// Read-only to the decision engine.
type CurrentPosition struct {
	Ticker   string
	Quantity int64
	AvgCost  float64
}

// TradeSide is the direction of a trade intent
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeIntent is a single proposed trade. Immutable once placed into a batch.
// ClientOrderID is assigned at creation so retried submissions are idempotent.
type TradeIntent struct {
	Ticker         string
	Side           TradeSide
	Quantity       int64
	ReferencePrice float64
	ClientOrderID  string
}

// Value returns the notional value of the intent at its reference price
func (ti TradeIntent) Value() float64 {
	return float64(ti.Quantity) * ti.ReferencePrice
}

// ExecutionMode controls real-world effect of batch execution
type ExecutionMode string

const (
	// ModeDryRun simulates fills at reference price, no broker, no ledger
	ModeDryRun ExecutionMode = "dry_run"
	// ModePaper simulates fills and persists them to the ledger
	ModePaper ExecutionMode = "paper"
	// ModeLive submits real orders to the brokerage
	ModeLive ExecutionMode = "live"
)

// RiskLimits is the externally supplied risk configuration, read-only per run
type RiskLimits struct {
	MaxPositionSize      float64 `yaml:"max_position_size"`
	MaxConcentrationTop3 float64 `yaml:"max_concentration_top3"`
	MaxTurnover          float64 `yaml:"max_turnover"`
	MaxDrawdown          float64 `yaml:"max_drawdown"`
	MinCashBalance       float64 `yaml:"min_cash_balance"`
}

// Validate rejects limit sets the enforcer cannot work with
func (rl RiskLimits) Validate() error {
	if rl.MaxPositionSize <= 0 || rl.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size %.4f out of (0,1]", rl.MaxPositionSize)
	}
	if rl.MaxConcentrationTop3 <= 0 || rl.MaxConcentrationTop3 > 1 {
		return fmt.Errorf("max_concentration_top3 %.4f out of (0,1]", rl.MaxConcentrationTop3)
	}
	if rl.MaxTurnover <= 0 {
		return fmt.Errorf("max_turnover %.4f must be positive", rl.MaxTurnover)
	}
	if rl.MinCashBalance < 0 {
		return fmt.Errorf("min_cash_balance %.2f must be non-negative", rl.MinCashBalance)
	}
	return nil
}

// RebalanceRecord is the append-only audit summary for one rebalance
// attempt. Never deleted or updated.
type RebalanceRecord struct {
	ID          int64
	RunID       string
	AccountID   string
	StartedAt   time.Time
	FinishedAt  time.Time
	RegimeLabel string
	Strategy    string
	BatchID     string
	Status      string // completed | failed
	ErrorKind   string
	ErrorMsg    string
	WeightsJSON string // final (post-clip) target weights
}
