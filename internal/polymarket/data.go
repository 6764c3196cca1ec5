package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const DefaultDataURL = "https://data-api.polymarket.com"

// UserTrade is a raw fill from the Data API. Price and size arrive as
// strings across API versions; normalization into strict internal shapes
// happens at the ingestion boundary, not here.
type UserTrade struct {
	ID              string `json:"id"`
	Market          string `json:"market"`
	AssetID         string `json:"asset_id"`
	Side            string `json:"side"`
	Size            string `json:"size"`
	Price           string `json:"price"`
	Timestamp       int64  `json:"timestamp"`
	TransactionHash string `json:"transaction_hash"`
}

// AssetPosition is an entry from the authoritative open-position snapshot.
// Side may be empty for older API versions.
type AssetPosition struct {
	AssetID  string `json:"asset_id"`
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Size     string `json:"size"`
}

// DataClient fetches user trade history and position snapshots.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDataClient(baseURL string) *DataClient {
	if baseURL == "" {
		baseURL = DefaultDataURL
	}
	return &DataClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// UserTrades returns fills for an address with timestamp >= since. The
// feed does not guarantee ordering; callers sort. May return fewer than
// limit items.
func (c *DataClient) UserTrades(ctx context.Context, address string, since time.Time, limit int) ([]UserTrade, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("start_ts", strconv.FormatInt(since.Unix(), 10))
	params.Set("limit", strconv.Itoa(limit))

	var trades []UserTrade
	if err := c.get(ctx, "/trades", params, &trades); err != nil {
		return nil, fmt.Errorf("fetch user trades: %w", err)
	}
	return trades, nil
}

// Positions returns the authoritative snapshot of currently-held asset
// positions for an address.
func (c *DataClient) Positions(ctx context.Context, address string) ([]AssetPosition, error) {
	params := url.Values{}
	params.Set("user", address)

	var positions []AssetPosition
	if err := c.get(ctx, "/positions", params, &positions); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	return positions, nil
}

func (c *DataClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
