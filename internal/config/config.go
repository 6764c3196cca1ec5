package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all configuration for the tracker
type Config struct {
	// Accounts to track
	TrackedAccounts []string

	// Sync cycle
	PollInterval    time.Duration
	LookbackDays    int
	TradeFetchLimit int

	// Polymarket API
	GammaAPIURL string
	CLOBAPIURL  string
	DataAPIURL  string
	WSURL       string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64

	// Mode
	Debug bool

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Sync cycle
		PollInterval:    getEnvDuration("POLL_INTERVAL", time.Minute),
		LookbackDays:    getEnvInt("LOOKBACK_DAYS", 7),
		TradeFetchLimit: getEnvInt("TRADE_FETCH_LIMIT", 500),

		// Polymarket API
		GammaAPIURL: getEnv("POLYMARKET_GAMMA_URL", "https://gamma-api.polymarket.com"),
		CLOBAPIURL:  getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		DataAPIURL:  getEnv("POLYMARKET_DATA_URL", "https://data-api.polymarket.com"),
		WSURL:       getEnv("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Mode
		Debug: getEnvBool("DEBUG", false),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/polytracker.db"),
	}

	// Parse tracked accounts
	for _, addr := range strings.Split(os.Getenv("TRACKED_ACCOUNTS"), ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address in TRACKED_ACCOUNTS: %s", addr)
		}
		cfg.TrackedAccounts = append(cfg.TrackedAccounts, strings.ToLower(addr))
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate required fields
	if len(cfg.TrackedAccounts) == 0 {
		return nil, fmt.Errorf("TRACKED_ACCOUNTS is required")
	}
	if cfg.PollInterval < 10*time.Second {
		return nil, fmt.Errorf("POLL_INTERVAL must be at least 10s")
	}

	return cfg, nil
}

// Lookback converts the configured lookback days into a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
