package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/events"
)

// memBatchStore is an in-memory BatchStore enforcing CAS semantics the
// same way the SQL repository does
type memBatchStore struct {
	batches map[string]*Batch
}

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{batches: make(map[string]*Batch)}
}

func (m *memBatchStore) Create(batch *Batch) error {
	cp := *batch
	cp.Trades = append([]BatchTrade(nil), batch.Trades...)
	m.batches[batch.BatchID] = &cp
	return nil
}

func (m *memBatchStore) Get(batchID string) (*Batch, error) {
	b, ok := m.batches[batchID]
	if !ok {
		return nil, nil
	}
	cp := *b
	cp.Trades = append([]BatchTrade(nil), b.Trades...)
	return &cp, nil
}

func (m *memBatchStore) UpdateStatus(batchID string, from, to BatchStatus) error {
	if err := validateTransition(from, to); err != nil {
		return err
	}
	b, ok := m.batches[batchID]
	if !ok || b.Status != from {
		return domain.NewError(domain.KindConcurrencyConflict, "orders",
			fmt.Sprintf("batch %s is no longer %s", batchID, from))
	}
	b.Status = to
	return nil
}

func (m *memBatchStore) UpdateTrade(batchID, clientOrderID string, status TradeStatus, orderID, errMsg string) error {
	b := m.batches[batchID]
	for i := range b.Trades {
		if b.Trades[i].ClientOrderID == clientOrderID {
			b.Trades[i].Status = status
			b.Trades[i].OrderID = orderID
			b.Trades[i].Error = errMsg
		}
	}
	return nil
}

func (m *memBatchStore) HasOpenBatch(accountID string) (bool, string, error) {
	for id, b := range m.batches {
		if b.AccountID == accountID && !IsTerminal(b.Status) {
			return true, id, nil
		}
	}
	return false, "", nil
}

// mockBroker counts submissions and fails configured tickers
type mockBroker struct {
	submitted   []string
	failTickers map[string]bool
	failFirstN  map[string]int
}

func (m *mockBroker) SubmitOrder(ctx context.Context, accountID, ticker string, side domain.TradeSide, quantity int64, clientOrderID string) (*domain.OrderResult, error) {
	m.submitted = append(m.submitted, clientOrderID)
	if n, ok := m.failFirstN[ticker]; ok && n > 0 {
		m.failFirstN[ticker] = n - 1
		return nil, fmt.Errorf("transient network error")
	}
	if m.failTickers[ticker] {
		return nil, fmt.Errorf("order rejected")
	}
	return &domain.OrderResult{OrderID: "ord-" + ticker, Status: "filled"}, nil
}

func (m *mockBroker) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	return "filled", nil
}

func (m *mockBroker) GetPositions(ctx context.Context, accountID string) ([]domain.CurrentPosition, error) {
	return nil, nil
}

func (m *mockBroker) GetAccountValue(ctx context.Context, accountID string) (float64, error) {
	return 0, nil
}

func (m *mockBroker) GetCashBalance(ctx context.Context, accountID string) (float64, error) {
	return 0, nil
}

type mockLedger struct {
	fills []domain.TradeIntent
}

func (m *mockLedger) RecordFill(accountID string, trade domain.TradeIntent, mode domain.ExecutionMode, orderID string) error {
	m.fills = append(m.fills, trade)
	return nil
}

func testTrades() []domain.TradeIntent {
	return []domain.TradeIntent{
		{Ticker: "XOM", Side: domain.SideSell, Quantity: 10, ReferencePrice: 100},
		{Ticker: "AAPL", Side: domain.SideBuy, Quantity: 5, ReferencePrice: 200},
		{Ticker: "MSFT", Side: domain.SideBuy, Quantity: 3, ReferencePrice: 300},
	}
}

func newTestManager(store BatchStore, broker domain.BrokerClient, ledger FillLedger) *Manager {
	return NewManager(store, broker, ledger, events.NewBus(zerolog.Nop()), zerolog.Nop())
}

func TestCreateBatch_NoApprovalLandsApproved(t *testing.T) {
	m := newTestManager(newMemBatchStore(), &mockBroker{}, &mockLedger{})
	batch, err := m.CreateBatch("acct-1", domain.ModeDryRun, testTrades(), false)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, batch.Status)
	assert.Len(t, batch.Trades, 3)
	for _, trade := range batch.Trades {
		assert.NotEmpty(t, trade.ClientOrderID)
		assert.Equal(t, TradePending, trade.Status)
	}
}

func TestCreateBatch_WithApprovalLandsPending(t *testing.T) {
	m := newTestManager(newMemBatchStore(), &mockBroker{}, &mockLedger{})
	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, batch.Status)
}

func TestCreateBatch_EmptyRejected(t *testing.T) {
	m := newTestManager(newMemBatchStore(), &mockBroker{}, &mockLedger{})
	_, err := m.CreateBatch("acct-1", domain.ModeDryRun, nil, false)
	require.Error(t, err)
}

func TestClientOrderIDs_DeterministicPerBatch(t *testing.T) {
	m := newTestManager(newMemBatchStore(), &mockBroker{}, &mockLedger{})
	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), false)
	require.NoError(t, err)

	for _, trade := range batch.Trades {
		assert.Equal(t, fmt.Sprintf("%s-%s", batch.BatchID, trade.Ticker), trade.ClientOrderID)
	}
}

func TestApprove_DoubleApprovalIsConcurrencyConflict(t *testing.T) {
	store := newMemBatchStore()
	m := newTestManager(store, &mockBroker{}, &mockLedger{})
	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), true)
	require.NoError(t, err)

	require.NoError(t, m.Approve(batch.BatchID))
	err = m.Approve(batch.BatchID)
	require.Error(t, err)
	assert.Equal(t, domain.KindConcurrencyConflict, domain.KindOf(err))
}

func TestReject_IsTerminal(t *testing.T) {
	store := newMemBatchStore()
	m := newTestManager(store, &mockBroker{}, &mockLedger{})
	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), true)
	require.NoError(t, err)

	require.NoError(t, m.Reject(batch.BatchID))
	_, err = m.Execute(context.Background(), batch.BatchID)
	require.Error(t, err, "rejected batch cannot execute")
}

func TestExecute_DryRunNeverCallsBroker(t *testing.T) {
	broker := &mockBroker{}
	ledger := &mockLedger{}
	m := newTestManager(newMemBatchStore(), broker, ledger)

	batch, err := m.CreateBatch("acct-1", domain.ModeDryRun, testTrades(), false)
	require.NoError(t, err)
	executed, err := m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)

	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Empty(t, broker.submitted, "dry run must not touch the brokerage")
	assert.Empty(t, ledger.fills, "dry run must not touch the ledger")
	for _, trade := range executed.Trades {
		assert.Equal(t, TradeFilled, trade.Status)
	}
}

func TestExecute_PaperPersistsFillsWithoutBroker(t *testing.T) {
	broker := &mockBroker{}
	ledger := &mockLedger{}
	m := newTestManager(newMemBatchStore(), broker, ledger)

	batch, err := m.CreateBatch("acct-1", domain.ModePaper, testTrades(), false)
	require.NoError(t, err)
	executed, err := m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)

	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Empty(t, broker.submitted)
	assert.Len(t, ledger.fills, 3)
}

func TestExecute_LiveSubmitsEveryTrade(t *testing.T) {
	broker := &mockBroker{}
	m := newTestManager(newMemBatchStore(), broker, &mockLedger{})

	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), false)
	require.NoError(t, err)
	executed, err := m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)

	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Len(t, broker.submitted, 3)
	for _, trade := range executed.Trades {
		assert.Equal(t, TradeFilled, trade.Status)
		assert.NotEmpty(t, trade.OrderID)
	}
}

func TestExecute_PartialFailureContinuesRemaining(t *testing.T) {
	broker := &mockBroker{failTickers: map[string]bool{"AAPL": true}}
	m := newTestManager(newMemBatchStore(), broker, &mockLedger{})

	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), false)
	require.NoError(t, err)
	executed, err := m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)

	assert.Equal(t, StatusPartiallyExecuted, executed.Status)
	byTicker := map[string]TradeStatus{}
	for _, trade := range executed.Trades {
		byTicker[trade.Ticker] = trade.Status
	}
	assert.Equal(t, TradeFailed, byTicker["AAPL"])
	assert.Equal(t, TradeFilled, byTicker["XOM"], "trades before the failure stay filled")
	assert.Equal(t, TradeFilled, byTicker["MSFT"], "trades after the failure still run")
}

func TestExecute_AllFailedEndsFailed(t *testing.T) {
	broker := &mockBroker{failTickers: map[string]bool{"AAPL": true, "MSFT": true, "XOM": true}}
	m := newTestManager(newMemBatchStore(), broker, &mockLedger{})

	batch, err := m.CreateBatch("acct-1", domain.ModeLive, testTrades(), false)
	require.NoError(t, err)
	executed, err := m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, executed.Status)
}

func TestExecute_TransientErrorRetriedWithSameClientOrderID(t *testing.T) {
	broker := &mockBroker{failFirstN: map[string]int{"AAPL": 2}}
	m := newTestManager(newMemBatchStore(), broker, &mockLedger{})

	batch, err := m.CreateBatch("acct-1", domain.ModeLive,
		[]domain.TradeIntent{{Ticker: "AAPL", Side: domain.SideBuy, Quantity: 5, ReferencePrice: 200}}, false)
	require.NoError(t, err)
	executed, err := m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)

	assert.Equal(t, StatusExecuted, executed.Status)
	require.Len(t, broker.submitted, 3, "two transient failures plus the success")
	assert.Equal(t, broker.submitted[0], broker.submitted[1])
	assert.Equal(t, broker.submitted[1], broker.submitted[2])
}

func TestExecute_SecondExecuteIsConcurrencyConflict(t *testing.T) {
	m := newTestManager(newMemBatchStore(), &mockBroker{}, &mockLedger{})
	batch, err := m.CreateBatch("acct-1", domain.ModeDryRun, testTrades(), false)
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), batch.BatchID)
	require.NoError(t, err)
	_, err = m.Execute(context.Background(), batch.BatchID)
	require.Error(t, err)
	assert.Equal(t, domain.KindConcurrencyConflict, domain.KindOf(err))
}
