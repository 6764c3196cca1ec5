package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const DefaultGammaURL = "https://gamma-api.polymarket.com"

// Market is the metadata we keep from a Gamma market record.
type Market struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Question string `json:"question"`
}

// GammaClient fetches market metadata from the Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Market returns metadata for a single market by condition ID.
func (c *GammaClient) Market(ctx context.Context, conditionID string) (*Market, error) {
	endpoint := fmt.Sprintf("%s/markets/%s", c.baseURL, url.PathEscape(conditionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch market: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market %s: status %d", conditionID, resp.StatusCode)
	}

	var market Market
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	return &market, nil
}

// Ping checks Gamma API reachability.
func (c *GammaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/markets?limit=1", nil)
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
