package polymarket

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// wsMaxAge is how old a cached WebSocket mark may be before we fall back
// to a REST midpoint.
const wsMaxAge = 30 * time.Second

// PriceSource serves current token prices, preferring a fresh WebSocket
// mark and falling back to the CLOB midpoint. The feed is optional.
type PriceSource struct {
	feed *WSFeed
	clob *CLOBClient
}

func NewPriceSource(feed *WSFeed, clob *CLOBClient) *PriceSource {
	return &PriceSource{feed: feed, clob: clob}
}

// CurrentPrice returns the best available mark for a token. An error means
// no price is available this cycle; callers skip the token rather than
// fabricate a price.
func (s *PriceSource) CurrentPrice(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if s.feed != nil {
		if price, at, ok := s.feed.Price(tokenID); ok && time.Since(at) < wsMaxAge {
			return price, nil
		}
	}
	return s.clob.Midpoint(ctx, tokenID)
}
