// Package ledger records executed and simulated fills in the append-only
// trades table.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
)

// Repository persists fills to the ledger database
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new fill ledger repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("service", "ledger").Logger(),
	}
}

// RecordFill appends one fill. The unique index on client_order_id
// makes a replayed fill a no-op instead of a duplicate row.
func (r *Repository) RecordFill(accountID string, trade domain.TradeIntent, mode domain.ExecutionMode, orderID string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO trades
			(account_id, ticker, side, quantity, price, order_id, client_order_id, mode, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`,
		accountID, trade.Ticker, string(trade.Side), trade.Quantity,
		trade.ReferencePrice, orderID, trade.ClientOrderID, string(mode), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			r.log.Debug().
				Str("client_order_id", trade.ClientOrderID).
				Msg("Fill already recorded, skipping duplicate")
			return nil
		}
		return fmt.Errorf("failed to record fill: %w", err)
	}
	return nil
}

// Fill is one recorded trade execution
type Fill struct {
	ID         int64
	AccountID  string
	Ticker     string
	Side       domain.TradeSide
	Quantity   int64
	Price      float64
	OrderID    string
	Mode       domain.ExecutionMode
	ExecutedAt time.Time
}

// FillsByAccount returns recent fills for an account, newest first
func (r *Repository) FillsByAccount(accountID string, limit int) ([]Fill, error) {
	rows, err := r.db.Query(`
		SELECT id, ticker, side, quantity, price, COALESCE(order_id, ''), mode, executed_at
		FROM trades WHERE account_id = ?
		ORDER BY executed_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		f := Fill{AccountID: accountID}
		var side, mode string
		var executedAt int64
		if err := rows.Scan(&f.ID, &f.Ticker, &side, &f.Quantity, &f.Price, &f.OrderID, &mode, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Side = domain.TradeSide(side)
		f.Mode = domain.ExecutionMode(mode)
		f.ExecutedAt = time.Unix(executedAt, 0)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// PaperCashFlow returns the net cash effect of all paper fills for an
// account: SELL proceeds minus BUY cost.
func (r *Repository) PaperCashFlow(accountID string) (float64, error) {
	var net float64
	err := r.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN side = 'SELL' THEN quantity * price ELSE -quantity * price END), 0)
		FROM trades WHERE account_id = ? AND mode = 'paper'`, accountID).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to compute paper cash flow: %w", err)
	}
	return net, nil
}

// PaperPositions reconstructs current paper holdings from recorded fills.
// BUYs add, SELLs subtract; tickers netting to zero drop out.
func (r *Repository) PaperPositions(accountID string) ([]domain.CurrentPosition, error) {
	rows, err := r.db.Query(`
		SELECT ticker,
		       SUM(CASE WHEN side = 'BUY' THEN quantity ELSE -quantity END) AS net_qty,
		       SUM(CASE WHEN side = 'BUY' THEN quantity * price ELSE 0 END) AS buy_cost,
		       SUM(CASE WHEN side = 'BUY' THEN quantity ELSE 0 END) AS buy_qty
		FROM trades
		WHERE account_id = ? AND mode = 'paper'
		GROUP BY ticker
		HAVING net_qty != 0
		ORDER BY ticker`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query paper positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.CurrentPosition
	for rows.Next() {
		var pos domain.CurrentPosition
		var buyCost float64
		var buyQty int64
		if err := rows.Scan(&pos.Ticker, &pos.Quantity, &buyCost, &buyQty); err != nil {
			return nil, fmt.Errorf("failed to scan paper position: %w", err)
		}
		if buyQty > 0 {
			pos.AvgCost = buyCost / float64(buyQty)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}
