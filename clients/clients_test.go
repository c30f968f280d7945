package clients

import (
	"polycopy/config"
	"testing"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := &config.Config{
		Discord: config.DiscordConfig{
			BotToken:      "",
			ProdChannelID: "prod",
			BetaChannelID: "beta",
		},
		PriceFeed: config.PriceFeedConfig{
			Enabled: true,
		},
		Polymarket: config.PolymarketConfig{
			GammaAPIURL: "https://gamma.example.com",
			DataAPIURL:  "https://data.example.com",
			MarketWSURL: "ws://ws.example.com",
		},
	}

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil || clients.Telegram == nil {
		t.Error("expected notifier clients to be set")
	}
	if clients.Notifier == nil {
		t.Error("expected combined notifier to be set")
	}
	if clients.Polymarket == nil {
		t.Error("expected Polymarket client to be set")
	}
	if clients.PolymarketEvents == nil {
		t.Error("expected PolymarketEvents client to be set when the price feed is enabled")
	}
	if clients.Gist == nil {
		t.Error("expected Gist client to be set")
	}
	if err := clients.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestNewClients_PriceFeedDisabled(t *testing.T) {
	cfg := &config.Config{
		PriceFeed: config.PriceFeedConfig{Enabled: false},
		Polymarket: config.PolymarketConfig{
			GammaAPIURL: "https://gamma.example.com",
			DataAPIURL:  "https://data.example.com",
		},
	}

	clients := NewClients(zap.NewNop(), cfg)

	if clients.PolymarketEvents != nil {
		t.Error("expected PolymarketEvents client to be nil when the price feed is disabled")
	}
}

func TestNewClients_NilLogger(t *testing.T) {
	clients := NewClients(nil, config.Defaults())

	if clients.Logger == nil {
		t.Error("expected a nop logger")
	}
}
