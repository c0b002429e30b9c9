package rebalance

import (
	"context"
	"fmt"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/domain"
)

// AccountState is the account snapshot a rebalance runs against
type AccountState struct {
	Positions   []domain.CurrentPosition
	TotalValue  float64
	CashBalance float64
}

// StateProvider resolves the current account state for a run
type StateProvider interface {
	State(ctx context.Context, acct *config.AccountConfig) (*AccountState, error)
}

// BrokerState reads live account state from the brokerage
type BrokerState struct {
	broker domain.BrokerClient
}

// NewBrokerState creates a broker-backed state provider
func NewBrokerState(broker domain.BrokerClient) *BrokerState {
	return &BrokerState{broker: broker}
}

var _ StateProvider = (*BrokerState)(nil)

// State fetches positions, total value, and cash from the brokerage
func (s *BrokerState) State(ctx context.Context, acct *config.AccountConfig) (*AccountState, error) {
	positions, err := s.broker.GetPositions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	total, err := s.broker.GetAccountValue(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account value: %w", err)
	}
	cash, err := s.broker.GetCashBalance(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cash balance: %w", err)
	}
	return &AccountState{Positions: positions, TotalValue: total, CashBalance: cash}, nil
}

// PaperLedger is what the paper state provider needs from the ledger
type PaperLedger interface {
	PaperPositions(accountID string) ([]domain.CurrentPosition, error)
	PaperCashFlow(accountID string) (float64, error)
}

// PaperState reconstructs account state from the paper fill ledger.
// Cash starts at the configured initial balance; holdings are marked
// to last-known prices from the feed.
type PaperState struct {
	ledger PaperLedger
	feed   domain.MarketDataFeed
}

// NewPaperState creates a ledger-backed state provider
func NewPaperState(ledger PaperLedger, feed domain.MarketDataFeed) *PaperState {
	return &PaperState{ledger: ledger, feed: feed}
}

var _ StateProvider = (*PaperState)(nil)

// State reconstructs positions and cash from recorded paper fills
func (s *PaperState) State(ctx context.Context, acct *config.AccountConfig) (*AccountState, error) {
	positions, err := s.ledger.PaperPositions(acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct paper positions: %w", err)
	}
	netFlow, err := s.ledger.PaperCashFlow(acct.ID)
	if err != nil {
		return nil, err
	}

	cash := acct.InitialCash + netFlow

	holdings := 0.0
	if len(positions) > 0 {
		tickers := make([]string, len(positions))
		for i, pos := range positions {
			tickers[i] = pos.Ticker
		}
		prices, err := s.feed.GetPrices(ctx, tickers)
		if err != nil {
			return nil, fmt.Errorf("failed to price paper holdings: %w", err)
		}
		for _, pos := range positions {
			price, ok := prices[pos.Ticker]
			if !ok || price <= 0 {
				return nil, fmt.Errorf("no usable price for held ticker %s", pos.Ticker)
			}
			holdings += float64(pos.Quantity) * price
		}
	}

	return &AccountState{
		Positions:   positions,
		TotalValue:  cash + holdings,
		CashBalance: cash,
	}, nil
}
