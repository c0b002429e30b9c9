package orders

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
)

// Repository persists order batches to the ledger database
type Repository struct {
	db *database.DB
}

// NewRepository creates a new order batch repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a batch and its trades in one transaction
func (r *Repository) Create(batch *Batch) error {
	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO order_batches (batch_id, account_id, status, mode, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			batch.BatchID, batch.AccountID, string(batch.Status), string(batch.Mode), batch.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		for _, trade := range batch.Trades {
			_, err := tx.Exec(`
				INSERT INTO batch_trades
					(batch_id, ticker, side, quantity, reference_price, client_order_id, status)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				batch.BatchID, trade.Ticker, string(trade.Side), trade.Quantity,
				trade.ReferencePrice, trade.ClientOrderID, string(trade.Status))
			if err != nil {
				return fmt.Errorf("failed to insert batch trade %s: %w", trade.Ticker, err)
			}
		}
		return nil
	})
}

// Get loads a batch with its trades
func (r *Repository) Get(batchID string) (*Batch, error) {
	batch := &Batch{BatchID: batchID}
	var status, mode string
	var decidedAt, executedAt sql.NullInt64

	err := r.db.QueryRow(`
		SELECT account_id, status, mode, created_at, decided_at, executed_at
		FROM order_batches WHERE batch_id = ?`, batchID).
		Scan(&batch.AccountID, &status, &mode, &batch.CreatedAt, &decidedAt, &executedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	batch.Status = BatchStatus(status)
	batch.Mode = domain.ExecutionMode(mode)
	batch.DecidedAt = decidedAt.Int64
	batch.ExecutedAt = executedAt.Int64

	rows, err := r.db.Query(`
		SELECT ticker, side, quantity, reference_price, client_order_id,
		       status, COALESCE(order_id, ''), COALESCE(error, '')
		FROM batch_trades WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trade BatchTrade
		var side, tradeStatus string
		if err := rows.Scan(&trade.Ticker, &side, &trade.Quantity, &trade.ReferencePrice,
			&trade.ClientOrderID, &tradeStatus, &trade.OrderID, &trade.Error); err != nil {
			return nil, fmt.Errorf("failed to scan batch trade: %w", err)
		}
		trade.Side = domain.TradeSide(side)
		trade.Status = TradeStatus(tradeStatus)
		batch.Trades = append(batch.Trades, trade)
	}
	return batch, rows.Err()
}

// UpdateStatus moves a batch from one status to another with a
// compare-and-swap: the UPDATE only matches when the stored status is
// still the expected one, so two racing transitions cannot both win.
// The winning transition also appends a batch_events row.
func (r *Repository) UpdateStatus(batchID string, from, to BatchStatus) error {
	if err := validateTransition(from, to); err != nil {
		return err
	}

	now := time.Now().Unix()
	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE order_batches SET status = ?,
				decided_at  = CASE WHEN ? IN ('APPROVED','REJECTED') THEN ? ELSE decided_at END,
				executed_at = CASE WHEN ? IN ('EXECUTED','PARTIALLY_EXECUTED','FAILED') THEN ? ELSE executed_at END
			WHERE batch_id = ? AND status = ?`,
			string(to), string(to), now, string(to), now, batchID, string(from))
		if err != nil {
			return fmt.Errorf("failed to update batch status: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return domain.NewError(domain.KindConcurrencyConflict, "orders",
				fmt.Sprintf("batch %s is no longer %s", batchID, from))
		}

		_, err = tx.Exec(`
			INSERT INTO batch_events (batch_id, from_status, to_status, created_at)
			VALUES (?, ?, ?, ?)`, batchID, string(from), string(to), now)
		if err != nil {
			return fmt.Errorf("failed to append batch event: %w", err)
		}
		return nil
	})
}

// UpdateTrade records the outcome of one trade inside a batch
func (r *Repository) UpdateTrade(batchID, clientOrderID string, status TradeStatus, orderID, errMsg string) error {
	var filledAt interface{}
	if status == TradeFilled {
		filledAt = time.Now().Unix()
	}
	_, err := r.db.Exec(`
		UPDATE batch_trades
		SET status = ?, order_id = NULLIF(?, ''), error = NULLIF(?, ''), filled_at = ?
		WHERE batch_id = ? AND client_order_id = ?`,
		string(status), orderID, errMsg, filledAt, batchID, clientOrderID)
	if err != nil {
		return fmt.Errorf("failed to update batch trade: %w", err)
	}
	return nil
}

// HasOpenBatch reports whether an account has a batch in a non-terminal
// status. Used to refuse a second in-flight rebalance per account.
func (r *Repository) HasOpenBatch(accountID string) (bool, string, error) {
	var batchID string
	err := r.db.QueryRow(`
		SELECT batch_id FROM order_batches
		WHERE account_id = ?
		  AND status IN ('DRAFT', 'PENDING_APPROVAL', 'APPROVED', 'EXECUTING')
		ORDER BY created_at DESC LIMIT 1`, accountID).Scan(&batchID)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to query open batches: %w", err)
	}
	return true, batchID, nil
}

// ListByAccount returns recent batches for an account, newest first
func (r *Repository) ListByAccount(accountID string, limit int) ([]Batch, error) {
	rows, err := r.db.Query(`
		SELECT batch_id, status, mode, created_at, decided_at, executed_at
		FROM order_batches WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b := Batch{AccountID: accountID}
		var status, mode string
		var decidedAt, executedAt sql.NullInt64
		if err := rows.Scan(&b.BatchID, &status, &mode, &b.CreatedAt, &decidedAt, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.Status = BatchStatus(status)
		b.Mode = domain.ExecutionMode(mode)
		b.DecidedAt = decidedAt.Int64
		b.ExecutedAt = executedAt.Int64
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Events returns the append-only transition history of a batch
func (r *Repository) Events(batchID string) ([]BatchEvent, error) {
	rows, err := r.db.Query(`
		SELECT from_status, to_status, created_at
		FROM batch_events WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch events: %w", err)
	}
	defer rows.Close()

	var events []BatchEvent
	for rows.Next() {
		var ev BatchEvent
		var from, to string
		if err := rows.Scan(&from, &to, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch event: %w", err)
		}
		ev.From = BatchStatus(from)
		ev.To = BatchStatus(to)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// BatchEvent is one recorded status transition
type BatchEvent struct {
	From      BatchStatus
	To        BatchStatus
	CreatedAt int64
}
