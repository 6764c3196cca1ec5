package tracker

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polytracker/internal/pnl"
)

// AccountSummary is the read model for one tracked account.
type AccountSummary struct {
	Address         string
	Nickname        string
	TotalPnL        decimal.Decimal
	WinRate         decimal.Decimal
	TotalTrades     int
	OpenPositions   int
	ClosedPositions int
	Portfolio       pnl.PortfolioMetrics
}

// LeaderboardEntry is one row of the tracked-account ranking.
type LeaderboardEntry struct {
	Address       string
	Nickname      string
	TotalPnL      decimal.Decimal
	WinRate       decimal.Decimal
	TotalTrades   int
	OpenPositions int
}

// AccountSummary builds the summary view for one account: cached stats
// plus portfolio metrics over its open positions.
func (t *Tracker) AccountSummary(accountID string) (*AccountSummary, error) {
	account, err := t.db.GetAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("account not found: %w", err)
	}

	open, err := t.db.GetOpenPositions(accountID)
	if err != nil {
		return nil, err
	}
	closed, err := t.db.GetClosedPositions(accountID)
	if err != nil {
		return nil, err
	}

	snapshots := make([]pnl.PositionSnapshot, len(open))
	for i, p := range open {
		snapshots[i] = pnl.PositionSnapshot{
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			Quantity:     p.Quantity,
			Side:         p.Side,
		}
	}

	return &AccountSummary{
		Address:         account.Address,
		Nickname:        account.Nickname,
		TotalPnL:        account.TotalPnL,
		WinRate:         account.WinRate,
		TotalTrades:     account.TotalTrades,
		OpenPositions:   len(open),
		ClosedPositions: len(closed),
		Portfolio:       pnl.Portfolio(snapshots),
	}, nil
}

// Leaderboard ranks all active accounts by total PnL, best first.
func (t *Tracker) Leaderboard() ([]LeaderboardEntry, error) {
	accounts, err := t.db.GetTrackedAccounts(true)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(accounts))
	for _, account := range accounts {
		open, err := t.db.GetOpenPositions(account.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LeaderboardEntry{
			Address:       account.Address,
			Nickname:      account.Nickname,
			TotalPnL:      account.TotalPnL,
			WinRate:       account.WinRate,
			TotalTrades:   account.TotalTrades,
			OpenPositions: len(open),
		})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].TotalPnL.GreaterThan(entries[b].TotalPnL)
	})

	return entries, nil
}
