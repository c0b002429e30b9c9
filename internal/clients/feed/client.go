// Package feed is the HTTP client for the market data feed service.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
)

// Client talks to the market data feed microservice
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new feed client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "feed").Logger(),
	}
}

var _ domain.MarketDataFeed = (*Client)(nil)

type seriesResponse struct {
	Symbol  string         `json:"symbol"`
	Candles []domain.OHLCV `json:"candles"`
}

type breadthResponse struct {
	Date                string  `json:"date"`
	AdvanceDeclineRatio float64 `json:"advance_decline_ratio"`
	NewHighsLowsRatio   float64 `json:"new_highs_lows_ratio"`
}

type pricesResponse struct {
	Prices map[string]float64 `json:"prices"`
}

type yieldsResponse struct {
	Date      string  `json:"date"`
	ShortRate float64 `json:"short_rate"`
	LongRate  float64 `json:"long_rate"`
}

// GetSeries fetches trailing daily candles for a benchmark, oldest first
func (c *Client) GetSeries(ctx context.Context, benchmark string, window int) ([]domain.OHLCV, error) {
	params := url.Values{}
	params.Set("symbol", benchmark)
	params.Set("window", strconv.Itoa(window))

	var resp seriesResponse
	if err := c.get(ctx, "/api/series", params, &resp); err != nil {
		return nil, err
	}
	return resp.Candles, nil
}

// GetBreadth fetches breadth statistics for a date
func (c *Client) GetBreadth(ctx context.Context, date string) (*domain.BreadthStats, error) {
	params := url.Values{}
	params.Set("date", date)

	var resp breadthResponse
	if err := c.get(ctx, "/api/breadth", params, &resp); err != nil {
		return nil, err
	}
	return &domain.BreadthStats{
		AdvanceDeclineRatio: resp.AdvanceDeclineRatio,
		NewHighsLowsRatio:   resp.NewHighsLowsRatio,
	}, nil
}

// GetYields fetches treasury yields for a date
func (c *Client) GetYields(ctx context.Context, date string) (*domain.YieldStats, error) {
	params := url.Values{}
	params.Set("date", date)

	var resp yieldsResponse
	if err := c.get(ctx, "/api/yields", params, &resp); err != nil {
		return nil, err
	}
	return &domain.YieldStats{ShortRate: resp.ShortRate, LongRate: resp.LongRate}, nil
}

// GetPrices fetches last-known prices for a set of tickers
func (c *Client) GetPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(tickers, ","))

	var resp pricesResponse
	if err := c.get(ctx, "/api/prices", params, &resp); err != nil {
		return nil, err
	}
	return resp.Prices, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call feed service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed service returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
