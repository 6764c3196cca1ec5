// Polytracker - Polymarket Account Tracker
//
// Mirrors the trading activity of a configured set of Polymarket wallets
// into locally derived positions with realized and unrealized PnL.
//
// Cycle:
// 1. Fetch each wallet's trade history since the last watermark
// 2. Replay fills into open/add/reduce/close position transitions
// 3. Reconcile against the exchange's open-position snapshot
// 4. Mark open positions to the latest price (WebSocket or CLOB midpoint)
// 5. Recompute per-wallet PnL, win rate and the leaderboard
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polytracker/internal/bot"
	"github.com/web3guy0/polytracker/internal/config"
	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/ingest"
	"github.com/web3guy0/polytracker/internal/polymarket"
	"github.com/web3guy0/polytracker/internal/position"
	"github.com/web3guy0/polytracker/internal/reconcile"
	"github.com/web3guy0/polytracker/internal/tracker"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Int("accounts", len(cfg.TrackedAccounts)).
		Dur("interval", cfg.PollInterval).
		Msg("🚀 Polytracker starting...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// ====== UPSTREAM CLIENTS ======

	clobClient := polymarket.NewCLOBClient(cfg.CLOBAPIURL)
	gammaClient := polymarket.NewGammaClient(cfg.GammaAPIURL)
	dataClient := polymarket.NewDataClient(cfg.DataAPIURL)

	// Health check before committing to the run
	healthCtx, healthCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := clobClient.Status(healthCtx); err != nil {
		log.Warn().Err(err).Msg("⚠️ CLOB API unreachable, prices may lag")
	} else {
		log.Info().Msg("💹 CLOB API reachable")
	}
	healthCancel()

	// WebSocket feed for live marks; CLOB midpoint is the fallback
	wsFeed := polymarket.NewWSFeed(cfg.WSURL)
	wsFeed.Start()

	priceSource := polymarket.NewPriceSource(wsFeed, clobClient)

	// ====== CORE COMPONENTS ======

	positions := position.NewManager(db)
	ingestor := ingest.New(db, positions, gammaClient)
	reconciler := reconcile.New(db, positions, dataClient, priceSource)

	trk := tracker.New(db, positions, ingestor, reconciler, dataClient, priceSource, tracker.Options{
		PollInterval: cfg.PollInterval,
		Lookback:     cfg.Lookback(),
		FetchLimit:   cfg.TradeFetchLimit,
	})

	if err := trk.EnsureAccounts(cfg.TrackedAccounts); err != nil {
		log.Fatal().Err(err).Msg("Failed to register tracked accounts")
	}

	// Keep the WS subscription aligned with whatever is currently open.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tokens, err := trk.OpenTokenIDs()
				if err != nil {
					log.Warn().Err(err).Msg("Failed to load open tokens for WS subscription")
					continue
				}
				wsFeed.Subscribe(tokens)
			}
		}
	}()

	// ====== TELEGRAM BOT (optional) ======

	var telegramBot *bot.Bot
	if cfg.TelegramToken != "" {
		telegramBot, err = bot.New(cfg, db, trk)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		telegramBot.Start()
	} else {
		log.Info().Msg("No TELEGRAM_BOT_TOKEN set, running headless")
	}

	// ====== RUN ======

	go func() {
		if err := trk.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Tracker stopped with error")
			cancel()
		}
	}()

	// Render the leaderboard once the initial sync has had a chance to run.
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
			printLeaderboard(trk)
		}
	}()

	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("🛑 Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("🛑 Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down...")
	cancel()

	if telegramBot != nil {
		telegramBot.Stop()
	}
	wsFeed.Stop()

	log.Info().Msg("👋 Goodbye!")
}

// printLeaderboard logs the tracked-account ranking.
func printLeaderboard(trk *tracker.Tracker) {
	entries, err := trk.Leaderboard()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build leaderboard")
		return
	}
	if len(entries) == 0 {
		return
	}

	log.Info().Msg("🏆 Leaderboard")
	for i, e := range entries {
		name := e.Nickname
		if name == "" {
			name = e.Address
		}
		log.Info().
			Int("rank", i+1).
			Str("account", name).
			Str("pnl", e.TotalPnL.StringFixed(2)).
			Str("win_rate", e.WinRate.StringFixed(1)).
			Int("trades", e.TotalTrades).
			Int("open", e.OpenPositions).
			Msg("📊")
	}
}
