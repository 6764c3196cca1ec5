// Package tracker drives the per-account and fleet-wide sync cycle:
// incremental trade fetch, ingestion, reconciliation, price refresh, and
// account statistics. It is the single writer of position state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/ingest"
	"github.com/web3guy0/polytracker/internal/pnl"
	"github.com/web3guy0/polytracker/internal/polymarket"
	"github.com/web3guy0/polytracker/internal/position"
	"github.com/web3guy0/polytracker/internal/reconcile"
)

// priceRefreshWorkers bounds parallel price refreshes. Positions are
// disjoint (account, token) rows, so parallel marks are safe.
const priceRefreshWorkers = 4

// TradeFetcher returns trade-history events for an address since a
// watermark. Ordering is not guaranteed.
type TradeFetcher interface {
	UserTrades(ctx context.Context, address string, since time.Time, limit int) ([]polymarket.UserTrade, error)
}

// Options tune the sync cycle.
type Options struct {
	PollInterval time.Duration // fleet cycle period
	Lookback     time.Duration // default watermark distance for new accounts
	FetchLimit   int           // max trades per incremental fetch
}

// Tracker orchestrates sync cycles over all active tracked accounts.
type Tracker struct {
	db         *database.Database
	positions  *position.Manager
	ingestor   *ingest.Ingestor
	reconciler *reconcile.Reconciler
	trades     TradeFetcher
	prices     reconcile.PriceFetcher
	opts       Options

	// Guards against overlapping cycles; a second cycle starting before
	// the first completes would race on position quantity/PnL fields.
	syncMu sync.Mutex
}

func New(db *database.Database, positions *position.Manager, ingestor *ingest.Ingestor,
	reconciler *reconcile.Reconciler, trades TradeFetcher, prices reconcile.PriceFetcher,
	opts Options) *Tracker {

	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 7 * 24 * time.Hour
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 500
	}

	return &Tracker{
		db:         db,
		positions:  positions,
		ingestor:   ingestor,
		reconciler: reconciler,
		trades:     trades,
		prices:     prices,
		opts:       opts,
	}
}

// EnsureAccounts registers any configured addresses that are not yet
// tracked.
func (t *Tracker) EnsureAccounts(addresses []string) error {
	for _, addr := range addresses {
		_, err := t.db.GetAccountByAddress(addr)
		if err == nil {
			log.Debug().Str("address", addr).Msg("Already tracking account")
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup account %s: %w", addr, err)
		}
		if _, err := t.db.AddTrackedAccount(addr, ""); err != nil {
			return fmt.Errorf("add account %s: %w", addr, err)
		}
		log.Info().Str("address", addr).Msg("📋 Tracking new account")
	}
	return nil
}

// Run polls sync cycles at the configured interval until ctx is
// cancelled. Cancellation takes effect between account iterations, never
// mid-reconciliation of a single account.
func (t *Tracker) Run(ctx context.Context) error {
	log.Info().Dur("interval", t.opts.PollInterval).Msg("🚀 Account tracker started")

	t.SyncAll(ctx)

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Account tracker stopped")
			return nil
		case <-ticker.C:
			t.SyncAll(ctx)
		}
	}
}

// SyncAll runs one fleet-wide cycle: each active account sequentially
// (failures isolated per account), then a price refresh pass over all
// open positions, then statistics recomputation. Skips entirely if a
// cycle is already in progress.
func (t *Tracker) SyncAll(ctx context.Context) {
	if !t.syncMu.TryLock() {
		log.Warn().Msg("⚠️ Sync cycle already in progress, skipping")
		return
	}
	defer t.syncMu.Unlock()

	accounts, err := t.db.GetTrackedAccounts(true)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load tracked accounts")
		return
	}

	log.Info().Int("accounts", len(accounts)).Msg("🔄 Sync cycle starting")

	for i := range accounts {
		if ctx.Err() != nil {
			return
		}
		if err := t.SyncAccount(ctx, &accounts[i]); err != nil {
			log.Error().Err(err).
				Str("address", accounts[i].Address).
				Msg("❌ Account sync failed")
		}
	}

	t.refreshAllPrices(ctx)

	for i := range accounts {
		if err := t.updateStatistics(&accounts[i]); err != nil {
			log.Error().Err(err).
				Str("address", accounts[i].Address).
				Msg("Failed to update account statistics")
		}
	}

	log.Info().Msg("✅ Sync cycle complete")
}

// SyncAccount runs one incremental sync for a single account: fetch
// trades since the watermark, ingest, reconcile, then advance the
// watermark. The watermark is only advanced on success; dedup makes the
// retried overlap harmless.
func (t *Tracker) SyncAccount(ctx context.Context, account *database.TrackedAccount) error {
	since := time.Now().Add(-t.opts.Lookback)
	if state, err := t.db.GetSyncState(account.Address); err == nil {
		since = state.LastSyncedTime
	}

	syncStart := time.Now()

	trades, err := t.trades.UserTrades(ctx, account.Address, since, t.opts.FetchLimit)
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}

	processed, err := t.ingestor.ProcessBatch(ctx, account, trades)
	if err != nil {
		return fmt.Errorf("ingest trades: %w", err)
	}

	if err := t.reconciler.Reconcile(ctx, account); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if err := t.db.UpdateSyncState(account.Address, syncStart); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	log.Info().
		Str("address", account.Address).
		Int("fetched", len(trades)).
		Int("applied", processed).
		Msg("📊 Account synced")

	return nil
}

// refreshAllPrices marks every open position to its current price. Price
// fetch failures skip the position for this cycle.
func (t *Tracker) refreshAllPrices(ctx context.Context) {
	open, err := t.db.GetOpenPositions("")
	if err != nil {
		log.Error().Err(err).Msg("Failed to load open positions for refresh")
		return
	}
	if len(open) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(priceRefreshWorkers)

	for i := range open {
		pos := open[i]
		g.Go(func() error {
			price, err := t.prices.CurrentPrice(ctx, pos.TokenID)
			if err != nil {
				log.Warn().Err(err).Str("token", pos.TokenID).Msg("Price refresh skipped")
				return nil
			}
			if _, err := t.positions.RefreshPrice(pos.ID, price); err != nil {
				log.Error().Err(err).Str("token", pos.TokenID).Msg("Price refresh failed")
			}
			return nil
		})
	}
	g.Wait()

	log.Debug().Int("positions", len(open)).Msg("💹 Prices refreshed")
}

// updateStatistics recomputes an account's cached aggregates from its
// positions and ledger.
func (t *Tracker) updateStatistics(account *database.TrackedAccount) error {
	closed, err := t.db.GetClosedPositions(account.ID)
	if err != nil {
		return err
	}
	open, err := t.db.GetOpenPositions(account.ID)
	if err != nil {
		return err
	}

	totalPnL := decimal.Zero
	wins, losses := 0, 0
	for _, p := range closed {
		totalPnL = totalPnL.Add(p.TotalPnL)
		if p.TotalPnL.IsPositive() {
			wins++
		} else {
			losses++
		}
	}
	for _, p := range open {
		totalPnL = totalPnL.Add(p.UnrealizedPnL)
	}

	totalTrades, err := t.db.CountTrades(account.ID)
	if err != nil {
		return err
	}

	return t.db.UpdateAccountStats(account.ID, totalPnL, pnl.WinRate(wins, losses), int(totalTrades))
}

// OpenTokenIDs returns the distinct token IDs across all open positions,
// used to scope the live price feed subscription.
func (t *Tracker) OpenTokenIDs() ([]string, error) {
	open, err := t.db.GetOpenPositions("")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(open))
	tokens := make([]string, 0, len(open))
	for _, p := range open {
		if !seen[p.TokenID] {
			seen[p.TokenID] = true
			tokens = append(tokens, p.TokenID)
		}
	}
	return tokens, nil
}
