// Package brokerage is the HTTP client for the brokerage execution
// service. It is only wired for live-mode accounts.
package brokerage

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

// Client talks to the brokerage gateway
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new brokerage client
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "brokerage").Logger(),
	}
}

var _ domain.BrokerClient = (*Client)(nil)

type submitOrderRequest struct {
	AccountID     string `json:"account_id"`
	Ticker        string `json:"ticker"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	ClientOrderID string `json:"client_order_id"`
}

type submitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type orderStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type positionsResponse struct {
	Positions []struct {
		Ticker   string  `json:"ticker"`
		Quantity int64   `json:"quantity"`
		AvgCost  float64 `json:"avg_cost"`
	} `json:"positions"`
}

type accountResponse struct {
	TotalValue  float64 `json:"total_value"`
	CashBalance float64 `json:"cash_balance"`
}

// SubmitOrder submits a single order. The client order ID is the
// idempotency key: resubmitting it returns the original order.
func (c *Client) SubmitOrder(ctx context.Context, accountID, ticker string, side domain.TradeSide, quantity int64, clientOrderID string) (*domain.OrderResult, error) {
	req := submitOrderRequest{
		AccountID:     accountID,
		Ticker:        ticker,
		Side:          string(side),
		Quantity:      quantity,
		ClientOrderID: clientOrderID,
	}

	var resp submitOrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/orders", req, &resp); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("account_id", accountID).
		Str("ticker", ticker).
		Str("side", string(side)).
		Int64("quantity", quantity).
		Str("order_id", resp.OrderID).
		Msg("Order submitted")

	return &domain.OrderResult{OrderID: resp.OrderID, Status: resp.Status}, nil
}

// GetOrderStatus returns the broker-side status of an order
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	var resp orderStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+orderID, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// GetPositions returns current holdings for an account
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]domain.CurrentPosition, error) {
	var resp positionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+accountID+"/positions", nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]domain.CurrentPosition, len(resp.Positions))
	for i, p := range resp.Positions {
		positions[i] = domain.CurrentPosition{Ticker: p.Ticker, Quantity: p.Quantity, AvgCost: p.AvgCost}
	}
	return positions, nil
}

// GetAccountValue returns total account value including cash
func (c *Client) GetAccountValue(ctx context.Context, accountID string) (float64, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+accountID, nil, &resp); err != nil {
		return 0, err
	}
	return resp.TotalValue, nil
}

// GetCashBalance returns the free cash balance for an account
func (c *Client) GetCashBalance(ctx context.Context, accountID string) (float64, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+accountID, nil, &resp); err != nil {
		return 0, err
	}
	return resp.CashBalance, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, request, out interface{}) error {
	var body io.Reader
	if request != nil {
		jsonData, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call brokerage: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brokerage returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
