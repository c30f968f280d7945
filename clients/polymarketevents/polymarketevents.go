package polymarketevents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// ErrNotConnected is returned by writes before ConnectMarket.
var ErrNotConnected = errors.New("not connected")

// PolymarketEventsClient streams the public market channel.
type PolymarketEventsClient struct {
	logger *zap.Logger

	marketWSURL  string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}

	msgCh chan json.RawMessage
	errCh chan error

	msgCount        uint64
	lastMsgUnixNano int64
}

// NewPolymarketEventsClient creates a client for url. An empty url uses the
// production market channel.
func NewPolymarketEventsClient(logger *zap.Logger, url string) *PolymarketEventsClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if url == "" {
		url = defaultMarketWSURL
	}

	return &PolymarketEventsClient{
		logger:       logger,
		marketWSURL:  url,
		dialer:       websocket.DefaultDialer,
		pingInterval: 10 * time.Second,

		msgCh: make(chan json.RawMessage, 1024),
		errCh: make(chan error, 64),
	}
}

// ConnectMarket dials the market channel and subscribes to assetIDs.
// The connection is closed when ctx is done.
func (c *PolymarketEventsClient) ConnectMarket(ctx context.Context, assetIDs []string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.marketWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial market ws: %w", err)
	}

	c.logger.Info("polymarket ws dialed",
		zap.String("url", c.marketWSURL),
		zap.Int("assets", len(assetIDs)),
	)

	sub := map[string]any{
		"type":       "market",
		"assets_ids": assetIDs,
	}
	c.writeMu.Lock()
	err = conn.WriteJSON(sub)
	c.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("send initial subscription: %w", err)
	}

	done := make(chan struct{})
	c.conn = conn
	c.done = done

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			c.closeConn(conn)
		case <-done:
		}
	}()

	return nil
}

// Connected reports whether a connection is open.
func (c *PolymarketEventsClient) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

func (c *PolymarketEventsClient) SubscribeAssets(assetIDs []string) error {
	return c.sendOp("subscribe", assetIDs)
}

func (c *PolymarketEventsClient) UnsubscribeAssets(assetIDs []string) error {
	return c.sendOp("unsubscribe", assetIDs)
}

// Messages returns single events; batch frames are split.
func (c *PolymarketEventsClient) Messages() <-chan json.RawMessage {
	return c.msgCh
}

// Errors returns read errors. A read error closes the connection.
func (c *PolymarketEventsClient) Errors() <-chan error {
	return c.errCh
}

type WSStats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *PolymarketEventsClient) Stats() WSStats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

// PriceUpdate is a price observation for one token.
type PriceUpdate struct {
	EventType string
	AssetID   string
	Price     float64
}

type priceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type marketEvent struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Price        string        `json:"price"`
	PriceChanges []priceChange `json:"price_changes"`
	Changes      []priceChange `json:"changes"`
}

// ParsePriceUpdates extracts price observations from a market event.
// Book snapshots and unknown events yield nothing.
func ParsePriceUpdates(data json.RawMessage) []PriceUpdate {
	var ev marketEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil
	}

	switch ev.EventType {
	case "last_trade_price":
		if p, ok := parsePrice(ev.Price); ok && ev.AssetID != "" {
			return []PriceUpdate{{EventType: ev.EventType, AssetID: ev.AssetID, Price: p}}
		}
	case "price_change":
		changes := ev.PriceChanges
		if len(changes) == 0 {
			changes = ev.Changes
		}
		var out []PriceUpdate
		for _, ch := range changes {
			asset := ch.AssetID
			if asset == "" {
				asset = ev.AssetID
			}
			if asset == "" {
				continue
			}
			p, ok := midpoint(ch.BestBid, ch.BestAsk)
			if !ok {
				p, ok = parsePrice(ch.Price)
			}
			if ok {
				out = append(out, PriceUpdate{EventType: ev.EventType, AssetID: asset, Price: p})
			}
		}
		return out
	}
	return nil
}

// ParseEventType extracts just the event_type from a message.
func ParseEventType(data json.RawMessage) string {
	var m struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "unknown"
	}
	if m.EventType == "" {
		return "empty"
	}
	return m.EventType
}

func parsePrice(s string) (float64, bool) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

func midpoint(bid, ask string) (float64, bool) {
	b, okB := parsePrice(bid)
	a, okA := parsePrice(ask)
	if !okB || !okA {
		return 0, false
	}
	return (a + b) / 2, true
}

// Close closes the current connection, if any.
func (c *PolymarketEventsClient) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return c.closeConn(conn)
}

// closeConn closes conn if it is still the active connection.
func (c *PolymarketEventsClient) closeConn(conn *websocket.Conn) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != conn {
		return nil
	}
	close(c.done)
	c.conn = nil
	c.done = nil
	return conn.Close()
}

func (c *PolymarketEventsClient) sendOp(operation string, assetIDs []string) error {
	msg := map[string]any{
		"operation":  operation,
		"assets_ids": assetIDs,
	}

	c.logger.Debug("polymarket ws op", zap.Any("payload", msg))
	return c.writeJSON(msg)
}

func (c *PolymarketEventsClient) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *PolymarketEventsClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			c.writeMu.Unlock()
		case <-done:
			return
		}
	}
}

func (c *PolymarketEventsClient) readLoop(conn *websocket.Conn, done <-chan struct{}) {
	c.logger.Info("polymarket ws read loop started")

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				c.logger.Info("polymarket ws read loop exiting: closed")
				return
			default:
			}
			c.logger.Warn("polymarket ws read loop exiting: read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.closeConn(conn)
			return
		}

		// Server may reply with plain "PONG".
		if string(b) == "PONG" || string(b) == "PING" {
			continue
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.emitFrame(b)
	}
}

// emitFrame forwards a single object or each element of a batch array.
func (c *PolymarketEventsClient) emitFrame(b []byte) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			c.logger.Warn("polymarket ws bad json array frame",
				zap.Error(err),
				zap.ByteString("frame", b),
			)
			return
		}
		for _, one := range arr {
			c.forward(one)
		}
		return
	}

	c.forward(json.RawMessage(append([]byte(nil), trimmed...)))
}

func (c *PolymarketEventsClient) forward(msg json.RawMessage) {
	select {
	case c.msgCh <- msg:
	default:
		c.logger.Warn("dropping ws message: msgCh full")
	}
}
