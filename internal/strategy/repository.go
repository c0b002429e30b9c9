package strategy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
)

// Repository persists strategy selections and reads the performance
// table from the portfolio database.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new strategy repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

var (
	_ PerformanceStore = (*Repository)(nil)
	_ SelectionStore   = (*Repository)(nil)
)

// Performance returns the latest performance row per strategy
func (r *Repository) Performance() (map[domain.Strategy]domain.StrategyPerformance, error) {
	rows, err := r.db.Query(`
		SELECT p.strategy, p.as_of, p.sharpe_30d, p.drawdown, p.win_rate
		FROM strategy_performance p
		JOIN (
			SELECT strategy, MAX(as_of) AS as_of
			FROM strategy_performance
			GROUP BY strategy
		) latest ON latest.strategy = p.strategy AND latest.as_of = p.as_of`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy performance: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Strategy]domain.StrategyPerformance)
	for rows.Next() {
		var name string
		var p domain.StrategyPerformance
		if err := rows.Scan(&name, &p.AsOf, &p.Sharpe30D, &p.Drawdown, &p.WinRate); err != nil {
			return nil, fmt.Errorf("failed to scan strategy performance: %w", err)
		}
		st, err := domain.StrategyFromString(name)
		if err != nil {
			// Unknown row from an older schema version, skip it
			continue
		}
		p.Strategy = st
		out[st] = p
	}
	return out, rows.Err()
}

// SavePerformance upserts one performance row
func (r *Repository) SavePerformance(p domain.StrategyPerformance) error {
	_, err := r.db.Exec(`
		INSERT INTO strategy_performance (strategy, as_of, sharpe_30d, drawdown, win_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(strategy, as_of) DO UPDATE SET
			sharpe_30d = excluded.sharpe_30d,
			drawdown   = excluded.drawdown,
			win_rate   = excluded.win_rate`,
		p.Strategy.String(), p.AsOf, p.Sharpe30D, p.Drawdown, p.WinRate)
	if err != nil {
		return fmt.Errorf("failed to save strategy performance: %w", err)
	}
	return nil
}

// SaveSelection records a strategy selection for audit
func (r *Repository) SaveSelection(accountID string, sel *domain.StrategySelection) error {
	names := make([]string, len(sel.Eligible))
	for i, st := range sel.Eligible {
		names[i] = st.String()
	}
	eligibleJSON, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal eligible strategies: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO strategy_selections
			(date, account_id, regime_label, selected, confidence, eligible, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sel.Date, accountID, sel.RegimeLabel, sel.Selected.String(),
		sel.Confidence, string(eligibleJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save strategy selection: %w", err)
	}
	return nil
}
