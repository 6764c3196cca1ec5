// Package pnl provides profit-and-loss arithmetic under average-cost-basis
// accounting. Everything here is stateless and free of I/O; callers round
// only for display.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polytracker/internal/database"
)

var hundred = decimal.NewFromInt(100)

// Fill is a (price, size) pair used for volume-weighted averaging.
type Fill struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// PositionSnapshot is the minimal view of an open position needed for
// portfolio aggregation.
type PositionSnapshot struct {
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	Quantity     decimal.Decimal
	Side         string
}

// PortfolioMetrics aggregates unrealized PnL and invested capital across
// a set of open positions.
type PortfolioMetrics struct {
	TotalPnL      decimal.Decimal
	TotalInvested decimal.Decimal
	ROI           decimal.Decimal
	PositionCount int
}

// Unrealized returns mark-to-market PnL for an open position.
// BUY profits when price rises, SELL when it falls.
func Unrealized(entry, current, qty decimal.Decimal, side string) decimal.Decimal {
	if side == database.SideBuy {
		return current.Sub(entry).Mul(qty)
	}
	return entry.Sub(current).Mul(qty)
}

// Realized returns PnL locked in by a closing or reducing fill. Identical
// arithmetic to Unrealized, applied at the exit price and closed quantity.
func Realized(entry, exit, qty decimal.Decimal, side string) decimal.Decimal {
	return Unrealized(entry, exit, qty, side)
}

// PercentReturn returns the percentage return of a position. A zero entry
// price yields 0 rather than a division-by-zero panic.
func PercentReturn(entry, current decimal.Decimal, side string) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	if side == database.SideBuy {
		return current.Sub(entry).Div(entry).Mul(hundred)
	}
	return entry.Sub(current).Div(entry).Mul(hundred)
}

// WinRate returns wins/(wins+losses) as a percentage, 0 when there are no
// closed positions yet.
func WinRate(wins, losses int) decimal.Decimal {
	total := wins + losses
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total))).Mul(hundred)
}

// AverageEntryPrice returns the volume-weighted average price of the given
// fills, 0 when total size is zero.
func AverageEntryPrice(fills []Fill) decimal.Decimal {
	totalValue := decimal.Zero
	totalSize := decimal.Zero
	for _, f := range fills {
		totalValue = totalValue.Add(f.Price.Mul(f.Size))
		totalSize = totalSize.Add(f.Size)
	}
	if totalSize.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalSize)
}

// Portfolio sums unrealized PnL and invested capital (entry price ×
// quantity) across open positions.
func Portfolio(positions []PositionSnapshot) PortfolioMetrics {
	m := PortfolioMetrics{
		TotalPnL:      decimal.Zero,
		TotalInvested: decimal.Zero,
		ROI:           decimal.Zero,
		PositionCount: len(positions),
	}

	for _, p := range positions {
		m.TotalPnL = m.TotalPnL.Add(Unrealized(p.EntryPrice, p.CurrentPrice, p.Quantity, p.Side))
		m.TotalInvested = m.TotalInvested.Add(p.EntryPrice.Mul(p.Quantity))
	}

	if !m.TotalInvested.IsZero() {
		m.ROI = m.TotalPnL.Div(m.TotalInvested).Mul(hundred)
	}

	return m
}
