// Package models is the HTTP client for the external ranking and
// weighting model service. The models are opaque: the engine sends a
// universe and features, gets scores and weights back.
package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
)

// Client talks to the model microservice
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new models client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second, // Optimization can take time
		},
		log: log.With().Str("client", "models").Logger(),
	}
}

var (
	_ domain.RankingModel   = (*Client)(nil)
	_ domain.WeightingModel = (*Client)(nil)
)

type rankRequest struct {
	Date     string   `json:"date"`
	Universe []string `json:"universe"`
}

type rankResponse struct {
	Scores map[string]float64 `json:"scores"`
}

type optimizeRequest struct {
	Date       string                `json:"date"`
	Candidates map[string]float64    `json:"candidates"`
	Features   domain.MarketFeatures `json:"features"`
}

type optimizeResponse struct {
	Weights map[string]float64 `json:"weights"`
}

// Rank returns predicted-return scores for a universe
func (c *Client) Rank(ctx context.Context, date string, universe []string) (map[string]float64, error) {
	var resp rankResponse
	if err := c.post(ctx, "/api/rank", rankRequest{Date: date, Universe: universe}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Scores) == 0 {
		return nil, fmt.Errorf("ranking model returned no scores")
	}
	return resp.Scores, nil
}

// Optimize returns target weights over the ranked candidates
func (c *Client) Optimize(ctx context.Context, date string, candidates map[string]float64, features domain.MarketFeatures) (map[string]float64, error) {
	var resp optimizeResponse
	req := optimizeRequest{Date: date, Candidates: candidates, Features: features}
	if err := c.post(ctx, "/api/optimize", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Weights) == 0 {
		return nil, fmt.Errorf("weighting model returned no weights")
	}
	return resp.Weights, nil
}

func (c *Client) post(ctx context.Context, endpoint string, request, out interface{}) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.log.Debug().Str("endpoint", endpoint).Msg("Calling model service")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call model service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
