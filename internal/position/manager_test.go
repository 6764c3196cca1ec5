package position

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polytracker/internal/database"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func approxEqual(t *testing.T, got, want decimal.Decimal, tol float64, label string) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(dec(tol)) {
		t.Errorf("%s = %s, want ~%s", label, got, want)
	}
}

func openTestPosition(t *testing.T, m *Manager, accountID string) *database.Position {
	t.Helper()
	pos, err := m.Open(OpenParams{
		AccountID: accountID,
		TokenID:   "token-1",
		Side:      database.SideBuy,
		Outcome:   "YES",
		Price:     dec(0.50),
		Quantity:  dec(100),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

func TestOpenCreatesPositionAndLedgerEntry(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")

	pos := openTestPosition(t, m, account.ID)

	if pos.Status != database.StatusOpen {
		t.Errorf("status = %s, want OPEN", pos.Status)
	}
	if !pos.EntryPrice.Equal(pos.CurrentPrice) {
		t.Errorf("entry %s != current %s on open", pos.EntryPrice, pos.CurrentPrice)
	}

	trades, err := db.GetRecentTrades(account.ID, 10)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trade count = %d, want 1", len(trades))
	}
	if trades[0].TradeType != database.TradeOpen {
		t.Errorf("trade type = %s, want OPEN", trades[0].TradeType)
	}
	if !trades[0].Value.Equal(dec(50.00)) {
		t.Errorf("trade value = %s, want 50.00", trades[0].Value)
	}
}

func TestOpenRejectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")
	openTestPosition(t, m, account.ID)

	_, err := m.Open(OpenParams{
		AccountID: account.ID,
		TokenID:   "token-1",
		Side:      database.SideBuy,
		Outcome:   "YES",
		Price:     dec(0.55),
		Quantity:  dec(10),
	})
	if !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("err = %v, want ErrAlreadyOpen", err)
	}
}

// Full lifecycle scenario: open BUY 100 @ 0.50, add BUY 50 @ 0.60,
// reduce SELL 60 @ 0.70, close @ 0.55.
func TestLifecycleScenario(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")
	pos := openTestPosition(t, m, account.ID)

	if err := m.Add(pos, dec(0.60), dec(50), time.Now(), ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Entry re-averages to (0.50*100 + 0.60*50)/150 = 0.5333
	approxEqual(t, pos.EntryPrice, dec(0.5333), 0.0001, "entry after add")
	if !pos.Quantity.Equal(dec(150)) {
		t.Errorf("quantity after add = %s, want 150", pos.Quantity)
	}

	if err := m.Reduce(pos, dec(0.70), dec(60), time.Now(), ""); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	approxEqual(t, pos.RealizedPnL, dec(10.00), 0.0001, "realized after reduce")
	if !pos.Quantity.Equal(dec(90)) {
		t.Errorf("quantity after reduce = %s, want 90", pos.Quantity)
	}

	closed, err := m.Close(pos.ID, dec(0.55), time.Now())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	approxEqual(t, closed.RealizedPnL, dec(11.50), 0.0001, "final realized")
	if closed.Status != database.StatusClosed {
		t.Errorf("status = %s, want CLOSED", closed.Status)
	}
	if !closed.UnrealizedPnL.IsZero() {
		t.Errorf("unrealized after close = %s, want 0", closed.UnrealizedPnL)
	}
	if !closed.TotalPnL.Equal(closed.RealizedPnL) {
		t.Errorf("total %s != realized %s after close", closed.TotalPnL, closed.RealizedPnL)
	}
	if closed.ClosedAt == nil {
		t.Error("closedAt not set")
	}

	// CLOSE ledger entry carries the inverted side and remaining quantity.
	trades, _ := db.GetRecentTrades(account.ID, 10)
	var closeTrade *database.Trade
	for i := range trades {
		if trades[i].TradeType == database.TradeClose {
			closeTrade = &trades[i]
		}
	}
	if closeTrade == nil {
		t.Fatal("no CLOSE trade recorded")
	}
	if closeTrade.Side != database.SideSell {
		t.Errorf("close trade side = %s, want SELL", closeTrade.Side)
	}
	if !closeTrade.Size.Equal(dec(90)) {
		t.Errorf("close trade size = %s, want 90", closeTrade.Size)
	}
}

func TestCloseAlreadyClosed(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")
	pos := openTestPosition(t, m, account.ID)

	if _, err := m.Close(pos.ID, dec(0.60), time.Now()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if _, err := m.Close(pos.ID, dec(0.60), time.Now()); !errors.Is(err, ErrNotFoundOrClosed) {
		t.Errorf("second close err = %v, want ErrNotFoundOrClosed", err)
	}
	if _, err := m.Close("missing-id", dec(0.60), time.Now()); !errors.Is(err, ErrNotFoundOrClosed) {
		t.Errorf("missing close err = %v, want ErrNotFoundOrClosed", err)
	}
}

func TestRefreshPrice(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")
	pos := openTestPosition(t, m, account.ID)

	updated, err := m.RefreshPrice(pos.ID, dec(0.70))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !updated.UnrealizedPnL.Equal(dec(20.00)) {
		t.Errorf("unrealized = %s, want 20.00", updated.UnrealizedPnL)
	}
	if !updated.TotalPnL.Equal(dec(20.00)) {
		t.Errorf("total = %s, want 20.00", updated.TotalPnL)
	}
	// Quantity and entry untouched by a mark.
	if !updated.Quantity.Equal(dec(100)) || !updated.EntryPrice.Equal(dec(0.50)) {
		t.Errorf("refresh mutated quantity/entry: %s / %s", updated.Quantity, updated.EntryPrice)
	}
}

func TestRefreshPriceNoopOnClosedOrMissing(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")
	pos := openTestPosition(t, m, account.ID)
	m.Close(pos.ID, dec(0.60), time.Now())

	updated, err := m.RefreshPrice(pos.ID, dec(0.90))
	if err != nil || updated != nil {
		t.Errorf("refresh on closed = (%v, %v), want (nil, nil)", updated, err)
	}

	updated, err = m.RefreshPrice("missing-id", dec(0.90))
	if err != nil || updated != nil {
		t.Errorf("refresh on missing = (%v, %v), want (nil, nil)", updated, err)
	}

	// Closed position stays frozen.
	frozen, _ := db.GetPosition(pos.ID)
	if !frozen.UnrealizedPnL.IsZero() {
		t.Errorf("closed position unrealized = %s, want 0", frozen.UnrealizedPnL)
	}
	if !frozen.CurrentPrice.Equal(dec(0.60)) {
		t.Errorf("closed position current = %s, want 0.60 (exit)", frozen.CurrentPrice)
	}
}

func TestReduceRejectsFullQuantity(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	account, _ := db.AddTrackedAccount("0xabc", "")
	pos := openTestPosition(t, m, account.ID)

	// A fill equal to remaining quantity is a full close, never a reduce.
	if err := m.Reduce(pos, dec(0.60), dec(100), time.Now(), ""); err == nil {
		t.Error("reduce at full quantity should be rejected")
	}
}
