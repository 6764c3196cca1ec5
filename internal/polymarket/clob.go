// Package polymarket provides thin clients for the three upstream
// Polymarket services: the CLOB (order book / prices), the Gamma API
// (market metadata), and the Data API (trade and position history), plus
// a WebSocket feed for live marks.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCLOBURL = "https://clob.polymarket.com"

// CLOBClient fetches prices from the Polymarket CLOB API.
type CLOBClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewCLOBClient(baseURL string) *CLOBClient {
	if baseURL == "" {
		baseURL = DefaultCLOBURL
	}
	return &CLOBClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Midpoint returns the current midpoint price for a token.
func (c *CLOBClient) Midpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/midpoint?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch midpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("midpoint for %s: status %d", tokenID, resp.StatusCode)
	}

	var body struct {
		Mid string `json:"mid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode midpoint: %w", err)
	}

	price, err := decimal.NewFromString(body.Mid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse midpoint %q: %w", body.Mid, err)
	}
	return price, nil
}

// Status checks CLOB API reachability.
func (c *CLOBClient) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
