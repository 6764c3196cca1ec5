// Package reconcile heals drift between locally derived positions and the
// exchange's authoritative open-position snapshot. Drift is the expected,
// corrected condition here, not an error.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/polymarket"
	"github.com/web3guy0/polytracker/internal/position"
)

// driftTolerance is the quantity delta below which local and external
// sizes are considered equal.
var driftTolerance = decimal.NewFromFloat(0.001)

// SnapshotFetcher returns the authoritative open-position snapshot for an
// address.
type SnapshotFetcher interface {
	Positions(ctx context.Context, address string) ([]polymarket.AssetPosition, error)
}

// PriceFetcher returns the current mark for a token. An error means the
// price is unavailable this cycle; the affected position is skipped, never
// priced from thin air.
type PriceFetcher interface {
	CurrentPrice(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// Reconciler compares tracked open positions against the exchange
// snapshot and corrects them through the position manager.
type Reconciler struct {
	db        *database.Database
	positions *position.Manager
	snapshots SnapshotFetcher
	prices    PriceFetcher
}

func New(db *database.Database, positions *position.Manager, snapshots SnapshotFetcher, prices PriceFetcher) *Reconciler {
	return &Reconciler{db: db, positions: positions, snapshots: snapshots, prices: prices}
}

// Reconcile runs one pass for an account:
//   - local OPEN positions absent upstream are closed at the current price
//   - present-but-drifted quantities are overwritten with the external size
//   - upstream positions we don't track are adopted at the current price
//
// Closed positions and historical ledger entries are never touched.
func (r *Reconciler) Reconcile(ctx context.Context, account *database.TrackedAccount) error {
	snapshot, err := r.snapshots.Positions(ctx, account.Address)
	if err != nil {
		return fmt.Errorf("fetch position snapshot: %w", err)
	}

	local, err := r.db.GetOpenPositions(account.ID)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	external := make(map[string]polymarket.AssetPosition, len(snapshot))
	for _, p := range snapshot {
		external[p.AssetID] = p
	}

	tracked := make(map[string]bool, len(local))
	for i := range local {
		pos := &local[i]
		tracked[pos.TokenID] = true

		ext, ok := external[pos.TokenID]
		if !ok {
			r.closeVanished(ctx, pos)
			continue
		}

		extSize, err := decimal.NewFromString(ext.Size)
		if err != nil {
			log.Warn().
				Str("token", pos.TokenID).
				Str("size", ext.Size).
				Msg("Snapshot entry has malformed size, skipping")
			continue
		}

		if extSize.Sub(pos.Quantity).Abs().GreaterThan(driftTolerance) {
			log.Info().
				Str("token", pos.TokenID).
				Str("local", pos.Quantity.String()).
				Str("external", extSize.String()).
				Msg("🔄 Correcting quantity drift")
			if err := r.positions.SetQuantity(pos, extSize); err != nil {
				log.Error().Err(err).Str("token", pos.TokenID).Msg("Failed to correct quantity")
			}
		}
	}

	for _, ext := range snapshot {
		if !tracked[ext.AssetID] {
			r.adopt(ctx, account, ext)
		}
	}

	log.Debug().Str("account", account.Address).Msg("🔄 Reconciled positions")
	return nil
}

// closeVanished closes a local position the exchange no longer reports.
func (r *Reconciler) closeVanished(ctx context.Context, pos *database.Position) {
	price, err := r.prices.CurrentPrice(ctx, pos.TokenID)
	if err != nil {
		log.Warn().Err(err).
			Str("token", pos.TokenID).
			Msg("Price unavailable, deferring close to next cycle")
		return
	}

	if _, err := r.positions.Close(pos.ID, price, time.Now()); err != nil {
		log.Error().Err(err).Str("token", pos.TokenID).Msg("Failed to close vanished position")
		return
	}
	log.Info().Str("token", pos.TokenID).Msg("🔄 Closed position absent from snapshot")
}

// adopt starts tracking an upstream position we have no record of. The
// historical entry price is unrecoverable, so the current price stands in
// for it, which biases realized PnL for adopted positions.
func (r *Reconciler) adopt(ctx context.Context, account *database.TrackedAccount, ext polymarket.AssetPosition) {
	size, err := decimal.NewFromString(ext.Size)
	if err != nil {
		log.Warn().Str("token", ext.AssetID).Str("size", ext.Size).Msg("Cannot adopt position with malformed size")
		return
	}

	price, err := r.prices.CurrentPrice(ctx, ext.AssetID)
	if err != nil {
		log.Warn().Err(err).
			Str("token", ext.AssetID).
			Msg("Price unavailable, deferring adoption to next cycle")
		return
	}

	side := ext.Side
	if side == "" {
		side = database.SideBuy
	}

	_, err = r.positions.Open(position.OpenParams{
		AccountID: account.ID,
		TokenID:   ext.AssetID,
		Side:      side,
		Outcome:   "YES",
		Price:     price,
		Quantity:  size,
		MarketID:  ext.MarketID,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("token", ext.AssetID).Msg("Failed to adopt position")
		return
	}
	log.Info().
		Str("token", ext.AssetID).
		Str("size", size.String()).
		Msg("🔄 Adopted untracked position")
}
