package telegram

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"polycopy/clients/notifier"
	"polycopy/config"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewTelegramClient_NoToken(t *testing.T) {
	cfg := &config.Config{
		IsProd: false,
		Telegram: config.TelegramConfig{
			ProdChatID: "prod-chat",
			BetaChatID: "beta-chat",
		},
	}

	client := NewTelegramClient(zap.NewNop(), cfg)

	if client.botToken != "" {
		t.Error("expected empty token")
	}
	if client.chatID != "beta-chat" {
		t.Errorf("expected beta chat, got: %s", client.chatID)
	}
}

func TestNewTelegramClient_ProdChat(t *testing.T) {
	cfg := &config.Config{
		IsProd: true,
		Telegram: config.TelegramConfig{
			BotToken:   "token",
			ProdChatID: "prod-chat",
			BetaChatID: "beta-chat",
		},
	}

	client := NewTelegramClient(nil, cfg)

	if client.chatID != "prod-chat" {
		t.Errorf("expected prod chat, got: %s", client.chatID)
	}
	if !client.isProd {
		t.Error("expected isProd to be true")
	}
	if client.client == nil {
		t.Error("expected http client when token is set")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	client := &TelegramClient{logger: zap.NewNop(), chatID: "chat"}

	err := client.SendCopyTradeAlert(notifier.CopyTradeAlert{MarketTitle: "m"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSend_NoChatID(t *testing.T) {
	client := &TelegramClient{logger: zap.NewNop(), botToken: "token"}

	err := client.SendSessionSummary(notifier.SessionSummary{})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

type capturedMessage struct {
	path    string
	payload map[string]any
}

func newTestServer(t *testing.T, status int) (*httptest.Server, chan capturedMessage) {
	t.Helper()
	msgs := make(chan capturedMessage, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		msgs <- capturedMessage{path: r.URL.Path, payload: payload}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, msgs
}

func TestSendCopyTradeAlert_UsesSessionChat(t *testing.T) {
	server, msgs := newTestServer(t, http.StatusOK)
	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiBase:  server.URL,
		botToken: "test-token",
		chatID:   "fallback-chat",
		client:   server.Client(),
	}

	err := client.SendCopyTradeAlert(notifier.CopyTradeAlert{
		ChatID:      424242,
		MarketTitle: "Will it rain?",
		Outcome:     "Yes",
		Status:      notifier.StatusExecuted,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := <-msgs
	if msg.path != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path: %s", msg.path)
	}
	if msg.payload["chat_id"] != "424242" {
		t.Errorf("expected session chat, got %v", msg.payload["chat_id"])
	}
	if msg.payload["parse_mode"] != "Markdown" {
		t.Errorf("unexpected parse mode: %v", msg.payload["parse_mode"])
	}
}

func TestSendPositionClosed_FallbackChat(t *testing.T) {
	server, msgs := newTestServer(t, http.StatusOK)
	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiBase:  server.URL,
		botToken: "test-token",
		chatID:   "fallback-chat",
		client:   server.Client(),
	}

	if err := client.SendPositionClosed(notifier.PositionClosedAlert{Trigger: "take_profit"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := <-msgs
	if msg.payload["chat_id"] != "fallback-chat" {
		t.Errorf("expected fallback chat, got %v", msg.payload["chat_id"])
	}
}

func TestSend_APIError(t *testing.T) {
	server, _ := newTestServer(t, http.StatusBadRequest)
	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiBase:  server.URL,
		botToken: "test-token",
		chatID:   "chat",
		client:   server.Client(),
	}

	err := client.SendCopyTradeAlert(notifier.CopyTradeAlert{})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestBuildCopyTradeMessage(t *testing.T) {
	alert := notifier.CopyTradeAlert{
		TraderName:       "whale_1",
		TraderAddress:    "0x1234567890abcdef1234567890abcdef12345678",
		WalletURL:        "https://polymarket.com/profile/0x1234",
		MarketTitle:      "Will *BTC* hit 100k?",
		MarketURL:        "https://polymarket.com/event/btc",
		Outcome:          "Yes",
		Price:            0.42,
		Notional:         150,
		Margin:           5,
		FilterReason:     "passed all filters",
		Status:           notifier.StatusExecuted,
		ExecutionMessage: "bought $5.00",
		Timestamp:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	msg := buildCopyTradeMessage(alert)

	for _, want := range []string{
		"[Will \\*BTC\\* hit 100k?](https://polymarket.com/event/btc)",
		"*Outcome:* Yes",
		"$150.00 @ $0.420",
		"whale\\_1 (0x1234…345678)",
		"*Filter:* passed all filters",
		"✅ Executed",
		"*Margin:* $5.00",
		"bought $5.00",
		"3/1/2025",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestBuildCopyTradeMessage_MonitoringOnly(t *testing.T) {
	msg := buildCopyTradeMessage(notifier.CopyTradeAlert{
		MarketTitle: "m",
		Status:      notifier.StatusMonitoringOnly,
	})
	if !strings.Contains(msg, "Monitoring only") {
		t.Errorf("expected monitoring status:\n%s", msg)
	}
	if strings.Contains(msg, "Margin") || strings.Contains(msg, "Trader") {
		t.Errorf("unexpected optional fields:\n%s", msg)
	}
}

func TestBuildPositionClosedMessage(t *testing.T) {
	sl := buildPositionClosedMessage(notifier.PositionClosedAlert{
		MarketTitle: "m", Outcome: "No", Trigger: "stop_loss", PnlPercent: -25.5, SoldSize: 10,
	})
	if !strings.Contains(sl, "Stop-loss") || !strings.Contains(sl, "-25.50%") || !strings.Contains(sl, "10.00 shares") {
		t.Errorf("unexpected stop-loss message:\n%s", sl)
	}

	tp := buildPositionClosedMessage(notifier.PositionClosedAlert{Trigger: "take_profit", PnlPercent: 40})
	if !strings.Contains(tp, "Take-profit") || !strings.Contains(tp, "+40.00%") {
		t.Errorf("unexpected take-profit message:\n%s", tp)
	}
}

func TestBuildSummaryMessage(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := buildSummaryMessage(notifier.SessionSummary{
		TraderAddress:  "0xabc",
		Reason:         "expired by timeout",
		StartedAt:      start,
		EndedAt:        start.Add(time.Hour),
		TotalFound:     7,
		MarketsTracked: 3,
		Executed:       2,
	})
	for _, want := range []string{"expired by timeout", "1h0m0s", "*Trades found:* 7", "*Markets tracked:* 3", "*Executed:* 2"} {
		if !strings.Contains(msg, want) {
			t.Errorf("summary missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "SL/TP") {
		t.Errorf("closed line should be omitted when zero:\n%s", msg)
	}
}

func TestShortAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234…345678"},
		{"0x123456789012", "0x123456789012"},
		{"short", "short"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := shortAddress(tt.input); got != tt.expected {
				t.Errorf("shortAddress(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"hello_world", "hello\\_world"},
		{"*bold*", "\\*bold\\*"},
		{"[link]", "\\[link\\]"},
		{"`code`", "\\`code\\`"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := escapeMarkdown(tt.input); got != tt.expected {
				t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
