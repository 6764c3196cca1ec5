// Package bot provides Telegram bot functionality
//
// telegram.go - Telegram interface for the account tracker.
// Serves leaderboard, per-account and position views over tracked wallets.
package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polytracker/internal/config"
	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/tracker"
)

// Bot handles Telegram interactions for the tracker
type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     *config.Config
	db      *database.Database
	tracker *tracker.Tracker
	stopCh  chan struct{}
}

// New creates a new tracker-focused Telegram bot
func New(cfg *config.Config, db *database.Database, trk *tracker.Tracker) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")

	return &Bot{
		api:     api,
		cfg:     cfg,
		db:      db,
		tracker: trk,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins the bot's command listener
func (b *Bot) Start() {
	go b.listenForCommands()

	if b.cfg.TelegramChatID != 0 {
		b.sendStartupMessage()
	}
}

// Stop stops the bot
func (b *Bot) Stop() {
	close(b.stopCh)
}

func (b *Bot) listenForCommands() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				go b.handleMessage(update.Message)
			}
			if update.CallbackQuery != nil {
				go b.handleCallback(update.CallbackQuery)
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := msg.Text

	log.Debug().
		Int64("chat_id", chatID).
		Str("text", text).
		Msg("Received message")

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.cmdStart(chatID)
		case "help":
			b.cmdHelp(chatID)
		case "leaderboard":
			b.cmdLeaderboard(chatID)
		case "account":
			b.cmdAccount(chatID, msg.CommandArguments())
		case "positions":
			b.cmdPositions(chatID, msg.CommandArguments())
		case "trades":
			b.cmdTrades(chatID, msg.CommandArguments())
		default:
			b.sendText(chatID, "❓ Unknown command. Use /help for available commands.")
		}
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	data := cb.Data

	log.Debug().
		Int64("chat_id", chatID).
		Str("data", data).
		Msg("Received callback")

	b.api.Request(tgbotapi.NewCallback(cb.ID, ""))

	switch {
	case data == "refresh_leaderboard":
		b.cmdLeaderboard(chatID)
	case strings.HasPrefix(data, "account:"):
		b.cmdAccount(chatID, strings.TrimPrefix(data, "account:"))
	}
}

// Commands

func (b *Bot) cmdStart(chatID int64) {
	text := fmt.Sprintf(`🚀 *Welcome to Polytracker!*

Tracking %d Polymarket wallets.

*What I do:*
• 📊 Mirror every tracked wallet's trades into positions
• 💰 Compute realized and unrealized PnL per position
• 🏆 Rank wallets by total PnL

*Quick Start:*
1️⃣ Use /leaderboard to rank tracked wallets
2️⃣ Use /account <address> for one wallet's stats
3️⃣ Use /positions <address> for its open positions

*Commands:*
/help - All commands
/leaderboard - Wallet ranking
/account - Wallet summary
/positions - Open positions`, len(b.cfg.TrackedAccounts))

	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `📚 *Polytracker Commands*

*🏆 Overview:*
/leaderboard - Tracked wallets ranked by PnL

*📊 Per wallet:*
/account <address> - Summary & statistics
/positions <address> - Open positions with live PnL
/trades <address> - Recent trade ledger

*How PnL Works:*
Positions use an average entry price. Partial
exits realize PnL against it; the remainder is
marked to the latest Polymarket price each cycle.`

	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdLeaderboard(chatID int64) {
	entries, err := b.tracker.Leaderboard()
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Failed to load leaderboard: %s", err.Error()))
		return
	}
	if len(entries) == 0 {
		b.sendText(chatID, "📊 No tracked accounts yet.")
		return
	}

	text := fmt.Sprintf("🏆 *Leaderboard* (%d wallets)\n\n", len(entries))
	medals := []string{"🥇", "🥈", "🥉"}

	for i, e := range entries {
		if i >= 10 {
			text += fmt.Sprintf("\n_...and %d more_", len(entries)-10)
			break
		}

		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}

		pnl, _ := e.TotalPnL.Float64()
		winRate, _ := e.WinRate.Float64()

		text += fmt.Sprintf(`%s *%s*
├ PnL: %s$%.2f
├ Win Rate: %.1f%%
└ Trades: %d | Open: %d

`,
			rank,
			escapeMarkdown(displayName(e.Nickname, e.Address)),
			pnlSign(pnl), pnl,
			winRate,
			e.TotalTrades, e.OpenPositions,
		)
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", "refresh_leaderboard"),
		),
	)

	b.sendMarkdownWithKeyboard(chatID, text, keyboard)
}

func (b *Bot) cmdAccount(chatID int64, args string) {
	address := strings.ToLower(strings.TrimSpace(args))
	if address == "" {
		b.sendText(chatID, "⚠️ Usage: /account <address>")
		return
	}

	account, err := b.db.GetAccountByAddress(address)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Not tracking %s", address))
		return
	}

	summary, err := b.tracker.AccountSummary(account.ID)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Failed to load account: %s", err.Error()))
		return
	}

	pnl, _ := summary.TotalPnL.Float64()
	winRate, _ := summary.WinRate.Float64()
	unrealized, _ := summary.Portfolio.TotalPnL.Float64()
	invested, _ := summary.Portfolio.TotalInvested.Float64()
	roi, _ := summary.Portfolio.ROI.Float64()

	var pnlEmoji string
	if pnl > 0 {
		pnlEmoji = "🟢"
	} else if pnl < 0 {
		pnlEmoji = "🔴"
	} else {
		pnlEmoji = "⚪"
	}

	text := fmt.Sprintf(`📈 *%s*

*Performance:*
%s Total PnL: %s$%.2f
├ Win Rate: %.1f%%
├ Total Trades: %d
├ Open: %d | Closed: %d

*Open Portfolio:*
├ Unrealized: %s$%.2f
├ Invested: $%.2f
└ ROI: %.2f%%`,
		escapeMarkdown(displayName(summary.Nickname, summary.Address)),
		pnlEmoji, pnlSign(pnl), pnl,
		winRate,
		summary.TotalTrades,
		summary.OpenPositions, summary.ClosedPositions,
		pnlSign(unrealized), unrealized,
		invested,
		roi,
	)

	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdPositions(chatID int64, args string) {
	address := strings.ToLower(strings.TrimSpace(args))
	if address == "" {
		b.sendText(chatID, "⚠️ Usage: /positions <address>")
		return
	}

	account, err := b.db.GetAccountByAddress(address)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Not tracking %s", address))
		return
	}

	positions, err := b.db.GetOpenPositions(account.ID)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Failed to load positions: %s", err.Error()))
		return
	}
	if len(positions) == 0 {
		b.sendText(chatID, "📊 No open positions.")
		return
	}

	text := fmt.Sprintf("📊 *Open Positions* (%d)\n\n", len(positions))

	for i, p := range positions {
		if i >= 8 {
			text += fmt.Sprintf("\n_...and %d more_", len(positions)-8)
			break
		}

		entry, _ := p.EntryPrice.Float64()
		current, _ := p.CurrentPrice.Float64()
		qty, _ := p.Quantity.Float64()
		unrealized, _ := p.UnrealizedPnL.Float64()

		question := p.MarketQuestion
		if question == "" {
			question = p.TokenID
		}

		text += fmt.Sprintf(`*%s*
├ %s %s × %.1f
├ Entry: $%.3f → Now: $%.3f
└ Unrealized: %s$%.2f

`,
			escapeMarkdown(question),
			p.Side, p.Outcome, qty,
			entry, current,
			pnlSign(unrealized), unrealized,
		)
	}

	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdTrades(chatID int64, args string) {
	address := strings.ToLower(strings.TrimSpace(args))
	if address == "" {
		b.sendText(chatID, "⚠️ Usage: /trades <address>")
		return
	}

	account, err := b.db.GetAccountByAddress(address)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Not tracking %s", address))
		return
	}

	trades, err := b.db.GetRecentTrades(account.ID, 10)
	if err != nil {
		b.sendText(chatID, fmt.Sprintf("❌ Failed to load trades: %s", err.Error()))
		return
	}
	if len(trades) == 0 {
		b.sendText(chatID, "📋 No trades recorded yet.")
		return
	}

	text := fmt.Sprintf("📋 *Recent Trades* (%d)\n\n", len(trades))

	for _, t := range trades {
		price, _ := t.Price.Float64()
		size, _ := t.Size.Float64()

		var emoji string
		if t.Side == database.SideBuy {
			emoji = "🟢"
		} else {
			emoji = "🔴"
		}

		text += fmt.Sprintf("%s %s %.1f @ $%.3f · %s · %s\n",
			emoji, t.Side, size, price,
			t.TradeType,
			t.Timestamp.Format("Jan 2 15:04"),
		)
	}

	b.sendMarkdown(chatID, text)
}

func (b *Bot) sendStartupMessage() {
	text := fmt.Sprintf(`🟢 *Polytracker Online*

Tracking %d wallets.
Use /leaderboard to see the ranking.`, len(b.cfg.TrackedAccounts))

	b.sendMarkdown(b.cfg.TelegramChatID, text)
}

// Helpers

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMarkdownWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}

func displayName(nickname, address string) string {
	if nickname != "" {
		return nickname
	}
	if len(address) > 10 {
		return address[:6] + "…" + address[len(address)-4:]
	}
	return address
}

func pnlSign(v float64) string {
	if v > 0 {
		return "+"
	}
	return ""
}
