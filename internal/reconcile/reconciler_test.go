package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polytracker/internal/database"
	"github.com/web3guy0/polytracker/internal/polymarket"
	"github.com/web3guy0/polytracker/internal/position"
)

type stubSnapshots struct {
	positions []polymarket.AssetPosition
	err       error
}

func (s stubSnapshots) Positions(ctx context.Context, address string) ([]polymarket.AssetPosition, error) {
	return s.positions, s.err
}

type stubPrices struct {
	prices map[string]decimal.Decimal
}

func (s stubPrices) CurrentPrice(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	p, ok := s.prices[tokenID]
	if !ok {
		return decimal.Zero, errors.New("price unavailable")
	}
	return p, nil
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newTestEnv(t *testing.T) (*database.Database, *position.Manager, *database.TrackedAccount) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	account, err := db.AddTrackedAccount("0xabc", "")
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	return db, position.NewManager(db), account
}

func openPosition(t *testing.T, m *position.Manager, accountID, token string, price, qty float64) *database.Position {
	t.Helper()
	pos, err := m.Open(position.OpenParams{
		AccountID: accountID,
		TokenID:   token,
		Side:      database.SideBuy,
		Outcome:   "YES",
		Price:     dec(price),
		Quantity:  dec(qty),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

func TestReconcileClosesVanishedPosition(t *testing.T) {
	db, m, account := newTestEnv(t)
	pos := openPosition(t, m, account.ID, "tok-1", 0.50, 100)

	r := New(db, m, stubSnapshots{}, stubPrices{prices: map[string]decimal.Decimal{"tok-1": dec(0.70)}})
	if err := r.Reconcile(context.Background(), account); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	closed, _ := db.GetPosition(pos.ID)
	if closed.Status != database.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", closed.Status)
	}
	// Realized = (0.70 - 0.50) * 100 for a BUY position.
	if !closed.RealizedPnL.Equal(dec(20.00)) {
		t.Errorf("realized = %s, want 20.00", closed.RealizedPnL)
	}
}

func TestReconcileSkipsCloseWhenPriceUnavailable(t *testing.T) {
	db, m, account := newTestEnv(t)
	pos := openPosition(t, m, account.ID, "tok-1", 0.50, 100)

	r := New(db, m, stubSnapshots{}, stubPrices{})
	if err := r.Reconcile(context.Background(), account); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	still, _ := db.GetPosition(pos.ID)
	if still.Status != database.StatusOpen {
		t.Errorf("position closed without a price, status = %s", still.Status)
	}
}

func TestReconcileCorrectsQuantityDrift(t *testing.T) {
	db, m, account := newTestEnv(t)
	pos := openPosition(t, m, account.ID, "tok-1", 0.50, 100)
	m.Reduce(pos, dec(0.60), dec(10), time.Now(), "")

	snapshot := stubSnapshots{positions: []polymarket.AssetPosition{
		{AssetID: "tok-1", Size: "75"},
	}}
	r := New(db, m, snapshot, stubPrices{})
	if err := r.Reconcile(context.Background(), account); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	updated, _ := db.GetPosition(pos.ID)
	if !updated.Quantity.Equal(dec(75)) {
		t.Errorf("quantity = %s, want 75", updated.Quantity)
	}
	// Drift correction only: entry and realized PnL untouched.
	if !updated.EntryPrice.Equal(dec(0.50)) {
		t.Errorf("entry = %s, want 0.50", updated.EntryPrice)
	}
	if !updated.RealizedPnL.Equal(dec(1.00)) {
		t.Errorf("realized = %s, want 1.00", updated.RealizedPnL)
	}
}

func TestReconcileIgnoresTinyDrift(t *testing.T) {
	db, m, account := newTestEnv(t)
	pos := openPosition(t, m, account.ID, "tok-1", 0.50, 100)

	snapshot := stubSnapshots{positions: []polymarket.AssetPosition{
		{AssetID: "tok-1", Size: "100.0005"},
	}}
	r := New(db, m, snapshot, stubPrices{})
	if err := r.Reconcile(context.Background(), account); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	updated, _ := db.GetPosition(pos.ID)
	if !updated.Quantity.Equal(dec(100)) {
		t.Errorf("quantity = %s, want 100 (within tolerance)", updated.Quantity)
	}
}

func TestReconcileAdoptsUntrackedPosition(t *testing.T) {
	db, m, account := newTestEnv(t)

	snapshot := stubSnapshots{positions: []polymarket.AssetPosition{
		{AssetID: "tok-9", Size: "40"},
	}}
	prices := stubPrices{prices: map[string]decimal.Decimal{"tok-9": dec(0.35)}}
	r := New(db, m, snapshot, prices)
	if err := r.Reconcile(context.Background(), account); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	adopted, err := db.GetOpenPosition(account.ID, "tok-9")
	if err != nil {
		t.Fatalf("adopted position not found: %v", err)
	}
	if adopted.Side != database.SideBuy {
		t.Errorf("side = %s, want BUY default", adopted.Side)
	}
	// Entry approximated by current price for adoptions.
	if !adopted.EntryPrice.Equal(dec(0.35)) {
		t.Errorf("entry = %s, want 0.35", adopted.EntryPrice)
	}
	if !adopted.Quantity.Equal(dec(40)) {
		t.Errorf("quantity = %s, want 40", adopted.Quantity)
	}
}

func TestReconcileSnapshotFailureIsPropagated(t *testing.T) {
	db, m, account := newTestEnv(t)
	openPosition(t, m, account.ID, "tok-1", 0.50, 100)

	r := New(db, m, stubSnapshots{err: errors.New("upstream 503")}, stubPrices{})
	if err := r.Reconcile(context.Background(), account); err == nil {
		t.Error("expected error when snapshot fetch fails")
	}

	// Nothing was touched.
	open, _ := db.GetOpenPositions(account.ID)
	if len(open) != 1 {
		t.Errorf("open positions = %d, want 1", len(open))
	}
}
