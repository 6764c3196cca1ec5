// Package ingest turns raw trade-history events into position lifecycle
// transitions. Events are normalized at this boundary, ordered
// deterministically, deduplicated against the ledger, and routed to the
// position manager one at a time.
package ingest

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/polymarket"
	"github.com/web3guy0/polytracker/internal/position"
)

// MarketFetcher supplies best-effort market metadata for display
// enrichment. Failures are non-fatal.
type MarketFetcher interface {
	Market(ctx context.Context, conditionID string) (*polymarket.Market, error)
}

// Ingestor processes trade batches for one account at a time.
type Ingestor struct {
	db        *database.Database
	positions *position.Manager
	markets   MarketFetcher
}

func New(db *database.Database, positions *position.Manager, markets MarketFetcher) *Ingestor {
	return &Ingestor{db: db, positions: positions, markets: markets}
}

// fill is the strict internal shape of a raw trade event after
// normalization.
type fill struct {
	tokenID   string
	marketID  string
	side      string
	price     decimal.Decimal
	size      decimal.Decimal
	txHash    string
	timestamp time.Time
}

// ProcessBatch ingests an unordered batch of raw trade events for an
// account. Already-recorded and malformed events are skipped; each
// remaining event is routed to the position manager. A single event's
// failure never aborts the batch. Returns the number of events applied.
func (i *Ingestor) ProcessBatch(ctx context.Context, account *database.TrackedAccount, raw []polymarket.UserTrade) (int, error) {
	fills := i.normalize(raw)

	// Deterministic replay order: timestamp ascending, feed order on ties.
	sort.SliceStable(fills, func(a, b int) bool {
		return fills[a].timestamp.Before(fills[b].timestamp)
	})

	processed := 0
	for _, f := range fills {
		exists, err := i.db.HasTradeAt(account.ID, f.tokenID, f.timestamp)
		if err != nil {
			return processed, err
		}
		if exists {
			continue
		}

		if err := i.applyFill(ctx, account, f); err != nil {
			log.Error().Err(err).
				Str("account", account.Address).
				Str("token", f.tokenID).
				Msg("Failed to apply trade event")
			continue
		}
		processed++
	}

	return processed, nil
}

// normalize converts loosely-typed wire records into strict fills,
// dropping unparseable events.
func (i *Ingestor) normalize(raw []polymarket.UserTrade) []fill {
	fills := make([]fill, 0, len(raw))
	for _, t := range raw {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			log.Warn().Str("price", t.Price).Str("token", t.AssetID).Msg("Skipping trade with malformed price")
			continue
		}
		size, err := decimal.NewFromString(t.Size)
		if err != nil {
			log.Warn().Str("size", t.Size).Str("token", t.AssetID).Msg("Skipping trade with malformed size")
			continue
		}
		if t.AssetID == "" || (t.Side != database.SideBuy && t.Side != database.SideSell) {
			log.Warn().Str("side", t.Side).Str("token", t.AssetID).Msg("Skipping trade with missing token or side")
			continue
		}

		fills = append(fills, fill{
			tokenID:   t.AssetID,
			marketID:  t.Market,
			side:      t.Side,
			price:     price,
			size:      size,
			txHash:    t.TransactionHash,
			timestamp: time.Unix(t.Timestamp, 0).UTC(),
		})
	}
	return fills
}

// applyFill routes one normalized fill to the right lifecycle transition.
func (i *Ingestor) applyFill(ctx context.Context, account *database.TrackedAccount, f fill) error {
	pos, err := i.db.GetOpenPosition(account.ID, f.tokenID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if pos == nil {
		if f.side == database.SideSell {
			// Shorting without existing exposure is not modeled.
			log.Debug().
				Str("account", account.Address).
				Str("token", f.tokenID).
				Msg("SELL with no open position, dropping event")
			return nil
		}

		params := position.OpenParams{
			AccountID: account.ID,
			TokenID:   f.tokenID,
			Side:      f.side,
			Outcome:   "YES",
			Price:     f.price,
			Quantity:  f.size,
			MarketID:  f.marketID,
			TxHash:    f.txHash,
			Timestamp: f.timestamp,
		}
		if f.marketID != "" && i.markets != nil {
			if market, err := i.markets.Market(ctx, f.marketID); err == nil {
				params.MarketSlug = market.Slug
				params.MarketQuestion = market.Question
			}
		}
		_, err := i.positions.Open(params)
		return err
	}

	if f.side == pos.Side {
		return i.positions.Add(pos, f.price, f.size, f.timestamp, f.txHash)
	}

	// Opposite side: full close when the fill covers the remaining
	// quantity, otherwise a partial close. Excess size beyond the
	// position is dropped, not opened as a reversed position.
	if f.size.GreaterThanOrEqual(pos.Quantity) {
		_, err := i.positions.Close(pos.ID, f.price, f.timestamp)
		return err
	}
	return i.positions.Reduce(pos, f.price, f.size, f.timestamp, f.txHash)
}
