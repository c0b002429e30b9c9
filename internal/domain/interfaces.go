package domain

import "context"

// MarketDataFeed provides benchmark series and breadth statistics.
// Implementations are network-bound; every call takes a context so the
// caller controls timeouts.
type MarketDataFeed interface {
	// GetSeries returns the trailing daily candles for a benchmark,
	// oldest first, at most window entries
	GetSeries(ctx context.Context, benchmark string, window int) ([]OHLCV, error)

	// GetBreadth returns breadth statistics for a date
	GetBreadth(ctx context.Context, date string) (*BreadthStats, error)

	// GetYields returns short/long treasury yields for a date
	GetYields(ctx context.Context, date string) (*YieldStats, error)

	// GetPrices returns last-known prices for a set of tickers
	GetPrices(ctx context.Context, tickers []string) (map[string]float64, error)
}

// RankingModel is the external, opaque predicted-return ranker
type RankingModel interface {
	// Rank returns predicted returns per ticker for the given universe
	Rank(ctx context.Context, date string, universe []string) (map[string]float64, error)
}

// WeightingModel is the external, opaque weight optimizer.
// An unreachable or declining optimizer returns an error with
// KindModelUnavailable; the target builder falls back to equal weighting.
type WeightingModel interface {
	// Optimize returns target weights over the ranked candidates
	Optimize(ctx context.Context, date string, candidates map[string]float64, features MarketFeatures) (map[string]float64, error)
}

// MarketFeatures is the feature set handed to the weighting model
type MarketFeatures struct {
	RegimeLabel  string  `json:"regime_label"`
	Volatility   float64 `json:"volatility"`
	BreadthRatio float64 `json:"breadth_ratio"`
}

// OrderResult is the brokerage response to a submitted order
type OrderResult struct {
	OrderID string
	Status  string
}

// BrokerClient defines the broker-agnostic execution contract.
// All submissions carry a caller-assigned client order ID so a retried
// submission cannot create a duplicate live order.
type BrokerClient interface {
	// SubmitOrder submits a single order
	SubmitOrder(ctx context.Context, accountID, ticker string, side TradeSide, quantity int64, clientOrderID string) (*OrderResult, error)

	// GetOrderStatus returns the broker-side status of an order
	GetOrderStatus(ctx context.Context, orderID string) (string, error)

	// GetPositions returns current holdings for an account
	GetPositions(ctx context.Context, accountID string) ([]CurrentPosition, error)

	// GetAccountValue returns total account value including cash
	GetAccountValue(ctx context.Context, accountID string) (float64, error)

	// GetCashBalance returns the free cash balance for an account
	GetCashBalance(ctx context.Context, accountID string) (float64, error)
}
