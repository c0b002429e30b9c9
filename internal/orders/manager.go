package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/events"
)

// submitRetries bounds per-trade submission attempts. Retries reuse the
// same client order ID, so a timeout that actually landed cannot create
// a duplicate order broker-side.
const (
	submitRetries      = 3
	submitRetryBackoff = 500 * time.Millisecond
)

// BatchStore is what the manager needs from batch persistence
type BatchStore interface {
	Create(batch *Batch) error
	Get(batchID string) (*Batch, error)
	UpdateStatus(batchID string, from, to BatchStatus) error
	UpdateTrade(batchID, clientOrderID string, status TradeStatus, orderID, errMsg string) error
	HasOpenBatch(accountID string) (bool, string, error)
}

// FillLedger records simulated and real fills
type FillLedger interface {
	RecordFill(accountID string, trade domain.TradeIntent, mode domain.ExecutionMode, orderID string) error
}

// Manager owns batch lifecycle and execution
type Manager struct {
	store  BatchStore
	broker domain.BrokerClient
	ledger FillLedger
	bus    *events.Bus
	log    zerolog.Logger
}

// NewManager creates a new order batch manager
func NewManager(store BatchStore, broker domain.BrokerClient, ledger FillLedger, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		broker: broker,
		ledger: ledger,
		bus:    bus,
		log:    log.With().Str("service", "orders").Logger(),
	}
}

// CreateBatch builds and persists a batch from trade intents.
// Client order IDs are derived from the batch ID and ticker, so
// re-submitting the same batch trade is idempotent broker-side.
// Without approval required the batch lands directly in APPROVED.
func (m *Manager) CreateBatch(accountID string, mode domain.ExecutionMode, trades []domain.TradeIntent, requireApproval bool) (*Batch, error) {
	if len(trades) == 0 {
		return nil, domain.NewError(domain.KindInternal, "orders", "refusing to create an empty batch")
	}

	batch := &Batch{
		BatchID:   uuid.NewString(),
		AccountID: accountID,
		Status:    StatusDraft,
		Mode:      mode,
		CreatedAt: time.Now().Unix(),
	}
	for _, intent := range trades {
		intent.ClientOrderID = fmt.Sprintf("%s-%s", batch.BatchID, intent.Ticker)
		batch.Trades = append(batch.Trades, BatchTrade{TradeIntent: intent, Status: TradePending})
	}

	if err := m.store.Create(batch); err != nil {
		return nil, domain.WrapError(domain.KindInternal, "orders", "failed to persist batch", err)
	}

	next := StatusApproved
	if requireApproval {
		next = StatusPendingApproval
	}
	if err := m.store.UpdateStatus(batch.BatchID, StatusDraft, next); err != nil {
		return nil, err
	}
	batch.Status = next

	m.bus.Emit(events.BatchCreated, "orders", map[string]interface{}{
		"batch_id":   batch.BatchID,
		"account_id": accountID,
		"mode":       string(mode),
		"trades":     len(batch.Trades),
		"status":     string(next),
	})

	m.log.Info().
		Str("batch_id", batch.BatchID).
		Str("account_id", accountID).
		Str("mode", string(mode)).
		Int("trades", len(batch.Trades)).
		Bool("require_approval", requireApproval).
		Msg("Batch created")

	return batch, nil
}

// Approve moves a pending batch to APPROVED
func (m *Manager) Approve(batchID string) error {
	return m.transition(batchID, StatusPendingApproval, StatusApproved)
}

// Reject moves a pending batch to the terminal REJECTED state
func (m *Manager) Reject(batchID string) error {
	return m.transition(batchID, StatusPendingApproval, StatusRejected)
}

func (m *Manager) transition(batchID string, from, to BatchStatus) error {
	if err := m.store.UpdateStatus(batchID, from, to); err != nil {
		return err
	}
	m.bus.Emit(events.BatchStatusChanged, "orders", map[string]interface{}{
		"batch_id": batchID,
		"from":     string(from),
		"to":       string(to),
	})
	return nil
}

// Execute runs an approved batch to a terminal state.
//
// Dry-run fills every trade at its reference price without touching the
// brokerage or the ledger. Paper does the same but persists the fills.
// Live submits each trade independently; one failed trade does not stop
// the rest, and filled trades are never rolled back.
func (m *Manager) Execute(ctx context.Context, batchID string) (*Batch, error) {
	batch, err := m.store.Get(batchID)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "orders", "failed to load batch", err)
	}
	if batch == nil {
		return nil, domain.NewError(domain.KindInternal, "orders", fmt.Sprintf("batch %s not found", batchID))
	}

	if err := m.transition(batchID, StatusApproved, StatusExecuting); err != nil {
		return nil, err
	}

	filled, failed := 0, 0
	for i := range batch.Trades {
		trade := &batch.Trades[i]
		if err := m.executeTrade(ctx, batch, trade); err != nil {
			trade.Status = TradeFailed
			trade.Error = err.Error()
			failed++
			m.log.Error().Err(err).
				Str("batch_id", batchID).
				Str("ticker", trade.Ticker).
				Msg("Trade failed")
		} else {
			trade.Status = TradeFilled
			filled++
			m.bus.Emit(events.TradeExecuted, "orders", map[string]interface{}{
				"batch_id": batchID,
				"ticker":   trade.Ticker,
				"side":     string(trade.Side),
				"quantity": trade.Quantity,
				"price":    trade.ReferencePrice,
				"mode":     string(batch.Mode),
			})
		}
		if err := m.store.UpdateTrade(batchID, trade.ClientOrderID, trade.Status, trade.OrderID, trade.Error); err != nil {
			return nil, domain.WrapError(domain.KindInternal, "orders", "failed to record trade outcome", err)
		}
	}

	final := finalStatus(filled, failed)
	if err := m.transition(batchID, StatusExecuting, final); err != nil {
		return nil, err
	}
	batch.Status = final

	m.log.Info().
		Str("batch_id", batchID).
		Str("status", string(final)).
		Int("filled", filled).
		Int("failed", failed).
		Msg("Batch execution finished")

	return batch, nil
}

// executeTrade runs one trade according to the batch mode
func (m *Manager) executeTrade(ctx context.Context, batch *Batch, trade *BatchTrade) error {
	switch batch.Mode {
	case domain.ModeDryRun:
		// Simulated fill at reference price, nothing persisted
		return nil

	case domain.ModePaper:
		if err := m.ledger.RecordFill(batch.AccountID, trade.TradeIntent, batch.Mode, ""); err != nil {
			return domain.WrapError(domain.KindExecutionFailure, "orders", "failed to record paper fill", err)
		}
		return nil

	case domain.ModeLive:
		result, err := m.submitWithRetry(ctx, batch.AccountID, trade)
		if err != nil {
			return domain.WrapError(domain.KindExecutionFailure, "orders",
				fmt.Sprintf("order %s %d %s rejected", trade.Side, trade.Quantity, trade.Ticker), err)
		}
		trade.OrderID = result.OrderID
		if err := m.ledger.RecordFill(batch.AccountID, trade.TradeIntent, batch.Mode, result.OrderID); err != nil {
			// The order is live; a ledger write failure must not fail the trade
			m.log.Error().Err(err).
				Str("order_id", result.OrderID).
				Str("ticker", trade.Ticker).
				Msg("Failed to record live fill in ledger")
		}
		return nil

	default:
		return domain.NewError(domain.KindInternal, "orders", fmt.Sprintf("unknown execution mode %q", batch.Mode))
	}
}

// submitWithRetry submits one order with bounded retries and backoff.
// Every attempt reuses the same client order ID.
func (m *Manager) submitWithRetry(ctx context.Context, accountID string, trade *BatchTrade) (*domain.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= submitRetries; attempt++ {
		result, err := m.broker.SubmitOrder(ctx, accountID, trade.Ticker, trade.Side, trade.Quantity, trade.ClientOrderID)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < submitRetries {
			m.log.Warn().Err(err).
				Str("ticker", trade.Ticker).
				Int("attempt", attempt).
				Msg("Order submission failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * submitRetryBackoff):
			}
		}
	}
	return nil, lastErr
}

// finalStatus resolves the terminal batch status from per-trade outcomes
func finalStatus(filled, failed int) BatchStatus {
	switch {
	case failed == 0:
		return StatusExecuted
	case filled == 0:
		return StatusFailed
	default:
		return StatusPartiallyExecuted
	}
}
