package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountRoundTrip(t *testing.T) {
	db := newTestDB(t)

	created, err := db.AddTrackedAccount("0xabc", "alice")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	byAddr, err := db.GetAccountByAddress("0xabc")
	if err != nil {
		t.Fatalf("get by address: %v", err)
	}
	if byAddr.ID != created.ID || byAddr.Nickname != "alice" {
		t.Errorf("got %+v, want id %s nickname alice", byAddr, created.ID)
	}
	if !byAddr.IsActive {
		t.Error("new account should be active")
	}
}

func TestAddTrackedAccountRejectsDuplicateAddress(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.AddTrackedAccount("0xabc", ""); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := db.AddTrackedAccount("0xabc", ""); err == nil {
		t.Error("expected unique-index violation on duplicate address")
	}
}

func TestDeactivateAccountHidesFromActiveList(t *testing.T) {
	db := newTestDB(t)

	account, _ := db.AddTrackedAccount("0xabc", "")
	db.AddTrackedAccount("0xdef", "")

	if err := db.DeactivateAccount(account.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, _ := db.GetTrackedAccounts(true)
	if len(active) != 1 || active[0].Address != "0xdef" {
		t.Errorf("active = %+v, want only 0xdef", active)
	}
	all, _ := db.GetTrackedAccounts(false)
	if len(all) != 2 {
		t.Errorf("all = %d, want 2 (deactivation never deletes)", len(all))
	}
}

func TestOpenPositionScoping(t *testing.T) {
	db := newTestDB(t)

	for _, p := range []*Position{
		{AccountID: "a1", TokenID: "tok-1", Status: StatusOpen, OpenedAt: time.Now()},
		{AccountID: "a1", TokenID: "tok-2", Status: StatusClosed, OpenedAt: time.Now()},
		{AccountID: "a2", TokenID: "tok-1", Status: StatusOpen, OpenedAt: time.Now()},
	} {
		if err := db.CreatePosition(p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	scoped, _ := db.GetOpenPositions("a1")
	if len(scoped) != 1 || scoped[0].TokenID != "tok-1" {
		t.Errorf("scoped = %+v, want one open tok-1", scoped)
	}

	all, _ := db.GetOpenPositions("")
	if len(all) != 2 {
		t.Errorf("all open = %d, want 2", len(all))
	}

	if _, err := db.GetOpenPosition("a1", "tok-2"); err == nil {
		t.Error("closed position returned as open")
	}
}

func TestHasTradeAt(t *testing.T) {
	db := newTestDB(t)
	ts := time.Unix(1700000000, 0).UTC()

	err := db.CreateTrade(&Trade{
		AccountID: "a1",
		TokenID:   "tok-1",
		Side:      SideBuy,
		Price:     decimal.NewFromFloat(0.50),
		Size:      decimal.NewFromInt(100),
		TradeType: TradeOpen,
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("create trade: %v", err)
	}

	seen, err := db.HasTradeAt("a1", "tok-1", ts)
	if err != nil || !seen {
		t.Errorf("HasTradeAt(same key) = %v, %v; want true", seen, err)
	}
	seen, _ = db.HasTradeAt("a1", "tok-1", ts.Add(time.Second))
	if seen {
		t.Error("different timestamp matched dedup key")
	}
	seen, _ = db.HasTradeAt("a2", "tok-1", ts)
	if seen {
		t.Error("different account matched dedup key")
	}
}

func TestSyncStateUpsert(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetSyncState("0xabc"); err == nil {
		t.Fatal("expected not-found for fresh address")
	}

	first := time.Unix(1700000000, 0).UTC()
	if err := db.UpdateSyncState("0xabc", first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	second := first.Add(time.Hour)
	if err := db.UpdateSyncState("0xabc", second); err != nil {
		t.Fatalf("second update: %v", err)
	}

	state, err := db.GetSyncState("0xabc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !state.LastSyncedTime.Equal(second) {
		t.Errorf("watermark = %v, want %v", state.LastSyncedTime, second)
	}
}
