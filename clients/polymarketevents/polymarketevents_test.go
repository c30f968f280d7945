package polymarketevents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestNewPolymarketEventsClient(t *testing.T) {
	client := NewPolymarketEventsClient(nil, "")

	if client.logger == nil {
		t.Error("expected logger to be set")
	}
	if client.marketWSURL != defaultMarketWSURL {
		t.Errorf("unexpected WS URL: %s", client.marketWSURL)
	}
	if client.pingInterval != 10*time.Second {
		t.Errorf("unexpected ping interval: %v", client.pingInterval)
	}
	if cap(client.msgCh) != 1024 || cap(client.errCh) != 64 {
		t.Errorf("unexpected buffers: %d/%d", cap(client.msgCh), cap(client.errCh))
	}

	custom := NewPolymarketEventsClient(zap.NewNop(), "ws://example")
	if custom.marketWSURL != "ws://example" {
		t.Errorf("unexpected WS URL: %s", custom.marketWSURL)
	}
}

func TestNotConnected(t *testing.T) {
	client := NewPolymarketEventsClient(nil, "")

	if client.Connected() {
		t.Error("expected not connected")
	}
	if err := client.SubscribeAssets([]string{"a"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := client.UnsubscribeAssets([]string{"a"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestStats_Empty(t *testing.T) {
	client := NewPolymarketEventsClient(nil, "")

	stats := client.Stats()
	if stats.MessageCount != 0 || !stats.LastMessageAt.IsZero() {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestEmitFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  int
	}{
		{"empty", "", 0},
		{"whitespace", " \n\t ", 0},
		{"single object", `{"event_type":"book"}`, 1},
		{"padded object", "\n  {\"event_type\":\"book\"}  ", 1},
		{"array", `[{"a":1},{"a":2},{"a":3}]`, 3},
		{"empty array", `[]`, 0},
		{"bad array", `[{"a":1},`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewPolymarketEventsClient(nil, "")
			client.emitFrame([]byte(tt.frame))
			if got := len(client.msgCh); got != tt.want {
				t.Errorf("forwarded %d messages, want %d", got, tt.want)
			}
		})
	}
}

func TestForward_ChannelFull(t *testing.T) {
	client := NewPolymarketEventsClient(nil, "")
	client.msgCh = make(chan json.RawMessage, 1)

	client.forward(json.RawMessage(`{}`))
	client.forward(json.RawMessage(`{}`))

	if len(client.msgCh) != 1 {
		t.Errorf("expected the second message to be dropped, got %d", len(client.msgCh))
	}
}

func TestParsePriceUpdates(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want []PriceUpdate
	}{
		{
			name: "last trade price",
			msg:  `{"event_type":"last_trade_price","asset_id":"tok","price":"0.55"}`,
			want: []PriceUpdate{{EventType: "last_trade_price", AssetID: "tok", Price: 0.55}},
		},
		{
			name: "price change uses midpoint",
			msg:  `{"event_type":"price_change","price_changes":[{"asset_id":"a","price":"0.40","best_bid":"0.40","best_ask":"0.50"}]}`,
			want: []PriceUpdate{{EventType: "price_change", AssetID: "a", Price: 0.45}},
		},
		{
			name: "legacy price change",
			msg:  `{"event_type":"price_change","asset_id":"b","changes":[{"price":"0.3"}]}`,
			want: []PriceUpdate{{EventType: "price_change", AssetID: "b", Price: 0.3}},
		},
		{
			name: "book is ignored",
			msg:  `{"event_type":"book","asset_id":"tok"}`,
		},
		{
			name: "bad price",
			msg:  `{"event_type":"last_trade_price","asset_id":"tok","price":"x"}`,
		},
		{
			name: "invalid json",
			msg:  `{`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePriceUpdates(json.RawMessage(tt.msg))
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i].AssetID != tt.want[i].AssetID || got[i].EventType != tt.want[i].EventType {
					t.Errorf("got %+v, want %+v", got[i], tt.want[i])
				}
				if diff := got[i].Price - tt.want[i].Price; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("price = %v, want %v", got[i].Price, tt.want[i].Price)
				}
			}
		})
	}
}

func TestParseEventType(t *testing.T) {
	if got := ParseEventType(json.RawMessage(`{"event_type":"book"}`)); got != "book" {
		t.Errorf("got %s", got)
	}
	if got := ParseEventType(json.RawMessage(`{}`)); got != "empty" {
		t.Errorf("got %s", got)
	}
	if got := ParseEventType(json.RawMessage(`nope`)); got != "unknown" {
		t.Errorf("got %s", got)
	}
}

// wsServer upgrades one connection and hands it to the test.
func wsServer(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func TestConnectMarket_SubscribesAndForwards(t *testing.T) {
	url, conns := wsServer(t)
	client := NewPolymarketEventsClient(nil, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.ConnectMarket(ctx, []string{"tok1"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	server := <-conns
	defer server.Close()

	var sub map[string]any
	if err := server.ReadJSON(&sub); err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if sub["type"] != "market" {
		t.Errorf("unexpected subscription: %v", sub)
	}

	if err := client.ConnectMarket(ctx, nil); err == nil {
		t.Error("expected error when already connected")
	}

	if err := client.SubscribeAssets([]string{"tok2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var op map[string]any
	if err := server.ReadJSON(&op); err != nil {
		t.Fatalf("read op: %v", err)
	}
	if op["operation"] != "subscribe" {
		t.Errorf("unexpected op: %v", op)
	}

	server.WriteMessage(websocket.TextMessage, []byte("PONG"))
	server.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"last_trade_price","asset_id":"tok1","price":"0.5"},{"event_type":"book"}]`))

	for i := 0; i < 2; i++ {
		select {
		case <-client.Messages():
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	if got := client.Stats().MessageCount; got != 1 {
		t.Errorf("expected 1 counted frame, got %d", got)
	}
}

func TestReadErrorClosesConnection(t *testing.T) {
	url, conns := wsServer(t)
	client := NewPolymarketEventsClient(nil, url)

	if err := client.ConnectMarket(context.Background(), []string{"tok"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := <-conns
	server.Close()

	select {
	case <-client.Errors():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a read error")
	}

	deadline := time.Now().Add(2 * time.Second)
	for client.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Connected() {
		t.Error("expected connection to be dropped")
	}
}

func TestContextCancelCloses(t *testing.T) {
	url, conns := wsServer(t)
	client := NewPolymarketEventsClient(nil, url)

	ctx, cancel := context.WithCancel(context.Background())
	if err := client.ConnectMarket(ctx, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := <-conns
	defer server.Close()

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for client.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Connected() {
		t.Error("expected cancel to close the connection")
	}
}
