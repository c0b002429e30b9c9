package regime

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
)

// Repository persists regime snapshots to the portfolio database
type Repository struct {
	db *database.DB
}

// NewRepository creates a new regime snapshot repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

var _ SnapshotStore = (*Repository)(nil)

// Latest returns the most recent snapshot for a benchmark, or nil when
// no snapshot exists yet.
func (r *Repository) Latest(benchmark string) (*domain.RegimeSnapshot, error) {
	row := r.db.QueryRow(`
		SELECT date, volatility_bucket, trend_bucket, breadth_ratio,
		       label, raw_label, streak, confidence
		FROM regime_snapshots
		WHERE benchmark = ?
		ORDER BY date DESC
		LIMIT 1`, benchmark)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest regime snapshot: %w", err)
	}
	return snap, nil
}

// Get returns the snapshot for a benchmark and date, or nil when absent
func (r *Repository) Get(benchmark, date string) (*domain.RegimeSnapshot, error) {
	row := r.db.QueryRow(`
		SELECT date, volatility_bucket, trend_bucket, breadth_ratio,
		       label, raw_label, streak, confidence
		FROM regime_snapshots
		WHERE benchmark = ? AND date = ?`, benchmark, date)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query regime snapshot: %w", err)
	}
	return snap, nil
}

// Save upserts a snapshot. Re-evaluating the same (benchmark, date)
// overwrites the row so repeated evaluations stay idempotent.
func (r *Repository) Save(benchmark string, snap *domain.RegimeSnapshot) error {
	_, err := r.db.Exec(`
		INSERT INTO regime_snapshots
			(date, benchmark, volatility_bucket, trend_bucket, breadth_ratio,
			 label, raw_label, streak, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(benchmark, date) DO UPDATE SET
			volatility_bucket = excluded.volatility_bucket,
			trend_bucket      = excluded.trend_bucket,
			breadth_ratio     = excluded.breadth_ratio,
			label             = excluded.label,
			raw_label         = excluded.raw_label,
			streak            = excluded.streak,
			confidence        = excluded.confidence`,
		snap.Date, benchmark, string(snap.VolatilityBucket), string(snap.TrendBucket),
		snap.BreadthRatio, snap.Label, snap.RawLabel, snap.Streak, snap.Confidence,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save regime snapshot: %w", err)
	}
	return nil
}

// History returns up to limit snapshots for a benchmark, newest first
func (r *Repository) History(benchmark string, limit int) ([]domain.RegimeSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT date, volatility_bucket, trend_bucket, breadth_ratio,
		       label, raw_label, streak, confidence
		FROM regime_snapshots
		WHERE benchmark = ?
		ORDER BY date DESC
		LIMIT ?`, benchmark, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query regime history: %w", err)
	}
	defer rows.Close()

	var snaps []domain.RegimeSnapshot
	for rows.Next() {
		var snap domain.RegimeSnapshot
		var volBucket, trendBucket string
		if err := rows.Scan(&snap.Date, &volBucket, &trendBucket, &snap.BreadthRatio,
			&snap.Label, &snap.RawLabel, &snap.Streak, &snap.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan regime snapshot: %w", err)
		}
		snap.VolatilityBucket = domain.VolatilityBucket(volBucket)
		snap.TrendBucket = domain.TrendBucket(trendBucket)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row *sql.Row) (*domain.RegimeSnapshot, error) {
	var snap domain.RegimeSnapshot
	var volBucket, trendBucket string
	err := row.Scan(&snap.Date, &volBucket, &trendBucket, &snap.BreadthRatio,
		&snap.Label, &snap.RawLabel, &snap.Streak, &snap.Confidence)
	if err != nil {
		return nil, err
	}
	snap.VolatilityBucket = domain.VolatilityBucket(volBucket)
	snap.TrendBucket = domain.TrendBucket(trendBucket)
	return &snap, nil
}
