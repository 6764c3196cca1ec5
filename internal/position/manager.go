// Package position owns the lifecycle state machine for a single tracked
// position: open, add, reduce (partial close), full close, price refresh.
// All position mutations flow through here or the reconciler.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/pnl"
)

// ErrNotFoundOrClosed is returned when closing a position that does not
// exist or is already CLOSED. Fatal to the single operation only.
var ErrNotFoundOrClosed = errors.New("position not found or already closed")

// ErrAlreadyOpen is returned when opening a position for an (account,
// token) pair that already has an OPEN position.
var ErrAlreadyOpen = errors.New("position already open for account and token")

// Manager drives position state transitions and emits ledger entries.
type Manager struct {
	db *database.Database
}

func NewManager(db *database.Database) *Manager {
	return &Manager{db: db}
}

// OpenParams describes a new position to open.
type OpenParams struct {
	AccountID      string
	TokenID        string
	Side           string // BUY or SELL
	Outcome        string // YES or NO
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	MarketID       string
	MarketSlug     string
	MarketQuestion string
	TxHash         string
	Timestamp      time.Time
}

// Open creates an OPEN position and its OPEN ledger entry. Valid only when
// the account has no open position for the token.
func (m *Manager) Open(p OpenParams) (*database.Position, error) {
	if _, err := m.db.GetOpenPosition(p.AccountID, p.TokenID); err == nil {
		return nil, ErrAlreadyOpen
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup open position: %w", err)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	pos := &database.Position{
		AccountID:      p.AccountID,
		TokenID:        p.TokenID,
		MarketID:       p.MarketID,
		MarketSlug:     p.MarketSlug,
		MarketQuestion: p.MarketQuestion,
		Side:           p.Side,
		Outcome:        p.Outcome,
		EntryPrice:     p.Price,
		CurrentPrice:   p.Price,
		Quantity:       p.Quantity,
		RealizedPnL:    decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
		TotalPnL:       decimal.Zero,
		Status:         database.StatusOpen,
		OpenedAt:       ts,
	}
	if err := m.db.CreatePosition(pos); err != nil {
		return nil, fmt.Errorf("create position: %w", err)
	}

	trade := &database.Trade{
		AccountID:       p.AccountID,
		PositionID:      pos.ID,
		TokenID:         p.TokenID,
		MarketID:        p.MarketID,
		Side:            p.Side,
		Outcome:         p.Outcome,
		Price:           p.Price,
		Size:            p.Quantity,
		Value:           p.Price.Mul(p.Quantity),
		TradeType:       database.TradeOpen,
		TransactionHash: p.TxHash,
		Timestamp:       ts,
	}
	if err := m.db.CreateTrade(trade); err != nil {
		return nil, fmt.Errorf("record open trade: %w", err)
	}

	log.Info().
		Str("token", p.TokenID).
		Str("side", p.Side).
		Str("qty", p.Quantity.String()).
		Str("price", p.Price.String()).
		Msg("📈 Opened position")

	return pos, nil
}

// Add applies a same-side fill to an open position. The entry price is
// re-averaged across the old quantity and the new fill; the current price
// is set to the new average until the next price refresh.
func (m *Manager) Add(pos *database.Position, price, qty decimal.Decimal, ts time.Time, txHash string) error {
	if pos.Status != database.StatusOpen {
		return ErrNotFoundOrClosed
	}

	newAvg := pnl.AverageEntryPrice([]pnl.Fill{
		{Price: pos.EntryPrice, Size: pos.Quantity},
		{Price: price, Size: qty},
	})

	pos.Quantity = pos.Quantity.Add(qty)
	pos.EntryPrice = newAvg
	pos.CurrentPrice = newAvg
	if err := m.db.SavePosition(pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}

	trade := &database.Trade{
		AccountID:       pos.AccountID,
		PositionID:      pos.ID,
		TokenID:         pos.TokenID,
		MarketID:        pos.MarketID,
		Side:            pos.Side,
		Outcome:         pos.Outcome,
		Price:           price,
		Size:            qty,
		Value:           price.Mul(qty),
		TradeType:       database.TradeAdd,
		TransactionHash: txHash,
		Timestamp:       ts,
	}
	if err := m.db.CreateTrade(trade); err != nil {
		return fmt.Errorf("record add trade: %w", err)
	}

	log.Info().
		Str("token", pos.TokenID).
		Str("qty", qty.String()).
		Str("avg_entry", newAvg.String()).
		Msg("➕ Added to position")

	return nil
}

// Reduce applies an opposite-side fill smaller than the remaining quantity,
// locking in realized PnL on the reduced portion. Entry price is unchanged.
func (m *Manager) Reduce(pos *database.Position, price, qty decimal.Decimal, ts time.Time, txHash string) error {
	if pos.Status != database.StatusOpen {
		return ErrNotFoundOrClosed
	}
	if qty.GreaterThanOrEqual(pos.Quantity) {
		return fmt.Errorf("reduce size %s >= remaining quantity %s, use Close", qty, pos.Quantity)
	}

	delta := pnl.Realized(pos.EntryPrice, price, qty, pos.Side)
	pos.Quantity = pos.Quantity.Sub(qty)
	pos.RealizedPnL = pos.RealizedPnL.Add(delta)
	if err := m.db.SavePosition(pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}

	side := database.SideSell
	if pos.Side == database.SideSell {
		side = database.SideBuy
	}
	trade := &database.Trade{
		AccountID:       pos.AccountID,
		PositionID:      pos.ID,
		TokenID:         pos.TokenID,
		MarketID:        pos.MarketID,
		Side:            side,
		Outcome:         pos.Outcome,
		Price:           price,
		Size:            qty,
		Value:           price.Mul(qty),
		TradeType:       database.TradeReduce,
		TransactionHash: txHash,
		Timestamp:       ts,
	}
	if err := m.db.CreateTrade(trade); err != nil {
		return fmt.Errorf("record reduce trade: %w", err)
	}

	log.Info().
		Str("token", pos.TokenID).
		Str("qty", qty.String()).
		Str("realized_delta", delta.String()).
		Msg("➖ Reduced position")

	return nil
}

// Close fully closes an open position at exitPrice. Realized PnL absorbs
// the mark on the full remaining quantity, unrealized is pinned to zero,
// and an inverted-side CLOSE ledger entry is emitted for the remainder.
// Returns ErrNotFoundOrClosed for a missing or already-closed position.
func (m *Manager) Close(positionID string, exitPrice decimal.Decimal, ts time.Time) (*database.Position, error) {
	pos, err := m.db.GetPosition(positionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFoundOrClosed
		}
		return nil, fmt.Errorf("lookup position: %w", err)
	}
	if pos.Status != database.StatusOpen {
		return nil, ErrNotFoundOrClosed
	}

	if ts.IsZero() {
		ts = time.Now()
	}

	delta := pnl.Realized(pos.EntryPrice, exitPrice, pos.Quantity, pos.Side)
	closedQty := pos.Quantity

	pos.CurrentPrice = exitPrice
	pos.RealizedPnL = pos.RealizedPnL.Add(delta)
	pos.UnrealizedPnL = decimal.Zero
	pos.TotalPnL = pos.RealizedPnL
	pos.Status = database.StatusClosed
	pos.ClosedAt = &ts
	if err := m.db.SavePosition(pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}

	side := database.SideSell
	if pos.Side == database.SideSell {
		side = database.SideBuy
	}
	trade := &database.Trade{
		AccountID:  pos.AccountID,
		PositionID: pos.ID,
		TokenID:    pos.TokenID,
		MarketID:   pos.MarketID,
		Side:       side,
		Outcome:    pos.Outcome,
		Price:      exitPrice,
		Size:       closedQty,
		Value:      exitPrice.Mul(closedQty),
		TradeType:  database.TradeClose,
		Timestamp:  ts,
	}
	if err := m.db.CreateTrade(trade); err != nil {
		return nil, fmt.Errorf("record close trade: %w", err)
	}

	log.Info().
		Str("token", pos.TokenID).
		Str("realized", pos.RealizedPnL.String()).
		Msg("📉 Closed position")

	return pos, nil
}

// RefreshPrice marks an open position to newPrice and recomputes
// unrealized/total PnL. A missing or CLOSED position is not an error:
// callers get (nil, nil) meaning "nothing to update".
func (m *Manager) RefreshPrice(positionID string, newPrice decimal.Decimal) (*database.Position, error) {
	pos, err := m.db.GetPosition(positionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup position: %w", err)
	}
	if pos.Status != database.StatusOpen {
		return nil, nil
	}

	pos.CurrentPrice = newPrice
	pos.UnrealizedPnL = pnl.Unrealized(pos.EntryPrice, newPrice, pos.Quantity, pos.Side)
	pos.TotalPnL = pos.RealizedPnL.Add(pos.UnrealizedPnL)
	if err := m.db.SavePosition(pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}

	return pos, nil
}

// SetQuantity overwrites the quantity of an open position. Used by the
// reconciler for drift correction only: entry price and realized PnL are
// deliberately left untouched.
func (m *Manager) SetQuantity(pos *database.Position, qty decimal.Decimal) error {
	if pos.Status != database.StatusOpen {
		return ErrNotFoundOrClosed
	}
	pos.Quantity = qty
	if err := m.db.SavePosition(pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}
