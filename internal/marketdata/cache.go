// Package marketdata wraps the market data feed with a persistent
// series cache so repeated evaluations within a day do not hammer the
// upstream feed.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/domain"
)

// defaultTTL is how long a cached benchmark series stays fresh
const defaultTTL = 6 * time.Hour

// CachedFeed decorates a MarketDataFeed with a msgpack-encoded series
// cache in the cache database. Breadth and yields are small and
// date-keyed upstream, so only the heavy series call is cached.
type CachedFeed struct {
	upstream domain.MarketDataFeed
	db       *database.DB
	ttl      time.Duration
	log      zerolog.Logger
}

// NewCachedFeed creates a caching wrapper around a feed
func NewCachedFeed(upstream domain.MarketDataFeed, db *database.DB, log zerolog.Logger) *CachedFeed {
	return &CachedFeed{
		upstream: upstream,
		db:       db,
		ttl:      defaultTTL,
		log:      log.With().Str("service", "marketdata").Logger(),
	}
}

var _ domain.MarketDataFeed = (*CachedFeed)(nil)

// GetSeries returns the cached series when fresh, otherwise fetches
// from upstream and refreshes the cache. A cache read or write failure
// degrades to a plain upstream call.
func (c *CachedFeed) GetSeries(ctx context.Context, benchmark string, window int) ([]domain.OHLCV, error) {
	if series, ok := c.readCache(benchmark, window); ok {
		return series, nil
	}

	series, err := c.upstream.GetSeries(ctx, benchmark, window)
	if err != nil {
		return nil, err
	}

	c.writeCache(benchmark, window, series)
	return series, nil
}

// GetBreadth passes through to the upstream feed
func (c *CachedFeed) GetBreadth(ctx context.Context, date string) (*domain.BreadthStats, error) {
	return c.upstream.GetBreadth(ctx, date)
}

// GetYields passes through to the upstream feed
func (c *CachedFeed) GetYields(ctx context.Context, date string) (*domain.YieldStats, error) {
	return c.upstream.GetYields(ctx, date)
}

// GetPrices passes through to the upstream feed; spot prices must
// never be served stale from cache.
func (c *CachedFeed) GetPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	return c.upstream.GetPrices(ctx, tickers)
}

func (c *CachedFeed) readCache(benchmark string, window int) ([]domain.OHLCV, bool) {
	var fetchedAt int64
	var payload []byte
	err := c.db.QueryRow(`
		SELECT fetched_at, payload FROM series_cache
		WHERE benchmark = ? AND window = ?`, benchmark, window).
		Scan(&fetchedAt, &payload)
	if err != nil {
		return nil, false
	}

	if time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		return nil, false
	}

	var series []domain.OHLCV
	if err := msgpack.Unmarshal(payload, &series); err != nil {
		c.log.Warn().Err(err).Str("benchmark", benchmark).Msg("Corrupt series cache entry, refetching")
		return nil, false
	}
	return series, true
}

func (c *CachedFeed) writeCache(benchmark string, window int, series []domain.OHLCV) {
	payload, err := msgpack.Marshal(series)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to encode series for cache")
		return
	}

	_, err = c.db.Exec(`
		INSERT INTO series_cache (benchmark, window, fetched_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(benchmark, window) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload    = excluded.payload`,
		benchmark, window, time.Now().Unix(), payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to write series cache")
	}
}

// Purge drops cache entries older than the given age
func (c *CachedFeed) Purge(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := c.db.Exec(`DELETE FROM series_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge series cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		c.log.Info().Int64("purged", n).Msg("Purged stale series cache entries")
	}
	return nil
}
