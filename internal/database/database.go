// Package database provides persistence for tracked accounts, positions,
// the trade ledger, and per-account sync state.
package database

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Side of a fill or position.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position status.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Trade types in the ledger.
const (
	TradeOpen   = "OPEN"
	TradeAdd    = "ADD"
	TradeReduce = "REDUCE"
	TradeClose  = "CLOSE"
)

type Database struct {
	db *gorm.DB
}

// Models

// TrackedAccount is an external account we observe. Never deleted, only
// deactivated. Stats fields are recomputed every sync cycle.
type TrackedAccount struct {
	ID          string `gorm:"primaryKey"`
	Address     string `gorm:"uniqueIndex"`
	Nickname    string
	IsActive    bool            `gorm:"default:true"`
	TotalPnL    decimal.Decimal `gorm:"type:decimal(20,6)"`
	WinRate     decimal.Decimal `gorm:"type:decimal(10,4)"`
	TotalTrades int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Position is exposure to one outcome token for one account. At most one
// OPEN position per (account, token) pair, enforced by the lifecycle
// manager rather than the schema.
type Position struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"index"`
	TokenID        string `gorm:"index"`
	MarketID       string
	MarketSlug     string
	MarketQuestion string
	Side           string          // "BUY" (long) or "SELL" (short)
	Outcome        string          // "YES" or "NO"
	EntryPrice     decimal.Decimal `gorm:"type:decimal(10,6)"`
	CurrentPrice   decimal.Decimal `gorm:"type:decimal(10,6)"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedPnL    decimal.Decimal `gorm:"type:decimal(20,6)"`
	UnrealizedPnL  decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalPnL       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status         string          `gorm:"index;default:'OPEN'"`
	OpenedAt       time.Time
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Trade is an append-only ledger entry for a fill. (account, token,
// timestamp) is the dedup key space for ingestion.
type Trade struct {
	ID              string `gorm:"primaryKey"`
	AccountID       string `gorm:"index"`
	PositionID      string `gorm:"index"`
	TokenID         string `gorm:"index"`
	MarketID        string
	Side            string
	Outcome         string
	Price           decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size            decimal.Decimal `gorm:"type:decimal(20,6)"`
	Value           decimal.Decimal `gorm:"type:decimal(20,6)"`
	TradeType       string // OPEN, ADD, REDUCE, CLOSE
	TransactionHash string
	Timestamp       time.Time `gorm:"index"`
	CreatedAt       time.Time
}

// SyncState is the per-account incremental-fetch watermark.
type SyncState struct {
	AccountAddress string `gorm:"primaryKey"`
	LastSyncedTime time.Time
	UpdatedAt      time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	// Check if this is a PostgreSQL connection string
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TrackedAccount{}, &Position{}, &Trade{}, &SyncState{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tracked account operations

func (d *Database) AddTrackedAccount(address, nickname string) (*TrackedAccount, error) {
	account := &TrackedAccount{
		ID:       uuid.NewString(),
		Address:  address,
		Nickname: nickname,
		IsActive: true,
	}
	if err := d.db.Create(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

func (d *Database) GetTrackedAccounts(activeOnly bool) ([]TrackedAccount, error) {
	var accounts []TrackedAccount
	q := d.db.Order("created_at")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&accounts).Error
	return accounts, err
}

func (d *Database) GetAccountByAddress(address string) (*TrackedAccount, error) {
	var account TrackedAccount
	err := d.db.First(&account, "address = ?", address).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (d *Database) GetAccount(id string) (*TrackedAccount, error) {
	var account TrackedAccount
	err := d.db.First(&account, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (d *Database) UpdateAccountStats(accountID string, totalPnL, winRate decimal.Decimal, totalTrades int) error {
	return d.db.Model(&TrackedAccount{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"total_pnl":    totalPnL,
		"win_rate":     winRate,
		"total_trades": totalTrades,
	}).Error
}

func (d *Database) DeactivateAccount(accountID string) error {
	return d.db.Model(&TrackedAccount{}).Where("id = ?", accountID).Update("is_active", false).Error
}

// Position operations

func (d *Database) CreatePosition(pos *Position) error {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	return d.db.Create(pos).Error
}

func (d *Database) SavePosition(pos *Position) error {
	return d.db.Save(pos).Error
}

func (d *Database) GetPosition(id string) (*Position, error) {
	var pos Position
	err := d.db.First(&pos, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetOpenPosition returns the OPEN position for (account, token), or
// gorm.ErrRecordNotFound if the account has no open exposure to the token.
func (d *Database) GetOpenPosition(accountID, tokenID string) (*Position, error) {
	var pos Position
	err := d.db.Where("account_id = ? AND token_id = ? AND status = ?", accountID, tokenID, StatusOpen).
		First(&pos).Error
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetOpenPositions returns open positions, optionally scoped to one account.
func (d *Database) GetOpenPositions(accountID string) ([]Position, error) {
	var positions []Position
	q := d.db.Where("status = ?", StatusOpen)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	err := q.Order("opened_at").Find(&positions).Error
	return positions, err
}

func (d *Database) GetClosedPositions(accountID string) ([]Position, error) {
	var positions []Position
	err := d.db.Where("account_id = ? AND status = ?", accountID, StatusClosed).
		Order("closed_at").Find(&positions).Error
	return positions, err
}

// Trade ledger operations

func (d *Database) CreateTrade(trade *Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	return d.db.Create(trade).Error
}

// HasTradeAt reports whether a ledger entry already exists for the given
// (account, token, timestamp) dedup key.
func (d *Database) HasTradeAt(accountID, tokenID string, ts time.Time) (bool, error) {
	var count int64
	err := d.db.Model(&Trade{}).
		Where("account_id = ? AND token_id = ? AND timestamp = ?", accountID, tokenID, ts).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) CountTrades(accountID string) (int64, error) {
	var count int64
	err := d.db.Model(&Trade{}).Where("account_id = ?", accountID).Count(&count).Error
	return count, err
}

func (d *Database) GetRecentTrades(accountID string, limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("account_id = ?", accountID).
		Order("timestamp DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Sync state operations

func (d *Database) GetSyncState(accountAddress string) (*SyncState, error) {
	var state SyncState
	err := d.db.First(&state, "account_address = ?", accountAddress).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (d *Database) UpdateSyncState(accountAddress string, syncedAt time.Time) error {
	state := SyncState{AccountAddress: accountAddress, LastSyncedTime: syncedAt}
	return d.db.Save(&state).Error
}
