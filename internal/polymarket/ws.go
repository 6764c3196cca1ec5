package polymarket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DefaultWSURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// wsPrice is a cached mark with its arrival time, so stale entries can be
// ignored in favour of a REST midpoint.
type wsPrice struct {
	price decimal.Decimal
	at    time.Time
}

// WSFeed maintains a WebSocket subscription to the CLOB market channel and
// caches the latest traded/quoted price per token. It only fills a cache;
// it never writes to storage.
type WSFeed struct {
	mu sync.RWMutex

	wsURL     string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	assetIDs []string
	prices   map[string]wsPrice
}

func NewWSFeed(wsURL string) *WSFeed {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &WSFeed{
		wsURL:  wsURL,
		stopCh: make(chan struct{}),
		prices: make(map[string]wsPrice),
	}
}

// Start connects and begins processing in the background.
func (f *WSFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Msg("📡 Price feed started")
}

// Stop closes the connection.
func (f *WSFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Price feed stopped")
}

// Subscribe replaces the set of token IDs the feed follows. Takes effect
// on the current connection immediately and on every reconnect.
func (f *WSFeed) Subscribe(assetIDs []string) {
	f.mu.Lock()
	f.assetIDs = assetIDs
	conn := f.conn
	f.mu.Unlock()

	if conn == nil || len(assetIDs) == 0 {
		return
	}
	if err := f.sendSubscribe(conn, assetIDs); err != nil {
		log.Warn().Err(err).Msg("WS subscribe failed")
	}
}

// Price returns the cached mark for a token and its age, if any.
func (f *WSFeed) Price(tokenID string) (decimal.Decimal, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[tokenID]
	return p.price, p.at, ok
}

func (f *WSFeed) sendSubscribe(conn *websocket.Conn, assetIDs []string) error {
	msg := map[string]interface{}{
		"type":       "subscribe",
		"channel":    "market",
		"assets_ids": assetIDs,
	}
	return conn.WriteJSON(msg)
}

func (f *WSFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Warn().Err(err).Msg("WS connection failed, retrying...")
			time.Sleep(reconnectDelay)
			continue
		}

		f.readLoop()
		time.Sleep(reconnectDelay)
	}
}

func (f *WSFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	assetIDs := f.assetIDs
	f.mu.Unlock()

	log.Info().Msg("🔌 WebSocket connected")

	if len(assetIDs) > 0 {
		if err := f.sendSubscribe(conn, assetIDs); err != nil {
			log.Warn().Err(err).Msg("WS resubscribe failed")
		}
	}

	go f.pingLoop()
	return nil
}

func (f *WSFeed) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			connected := f.connected
			f.mu.RUnlock()

			if connected && conn != nil {
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (f *WSFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("WS read error")
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
			return
		}

		f.processMessage(message)
	}
}

type wsMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
}

func (f *WSFeed) processMessage(data []byte) {
	var msgs []wsMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Try single message
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		msgs = []wsMessage{msg}
	}

	for _, msg := range msgs {
		switch msg.EventType {
		case "price_change", "last_trade_price":
			price, err := decimal.NewFromString(msg.Price)
			if err != nil || msg.AssetID == "" {
				continue
			}
			f.mu.Lock()
			f.prices[msg.AssetID] = wsPrice{price: price, at: time.Now()}
			f.mu.Unlock()
		}
	}
}
