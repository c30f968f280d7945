package clients

import (
	"polycopy/clients/discord"
	"polycopy/clients/gist"
	"polycopy/clients/notifier"
	"polycopy/clients/polymarketapi"
	"polycopy/clients/polymarketevents"
	"polycopy/clients/telegram"
	"polycopy/config"

	"go.uber.org/zap"
)

// Clients holds the process-wide API clients. Trading clients are per user
// and are built by the session manager.
type Clients struct {
	Logger *zap.Logger

	Discord          *discord.DiscordClient
	Telegram         *telegram.TelegramClient
	Notifier         notifier.Notifier // Combined notifier for all channels
	Polymarket       *polymarketapi.PolymarketApiClient
	PolymarketEvents *polymarketevents.PolymarketEventsClient
	Gist             *gist.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	c := &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Notifier:   notifier.NewMultiNotifier(discordClient, telegramClient),
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
		Gist:       gist.NewClient(logger, cfg),
	}

	// Price feed only nudges SL/TP checks; polling still works without it.
	if cfg.PriceFeed.Enabled {
		c.PolymarketEvents = polymarketevents.NewPolymarketEventsClient(logger, cfg.Polymarket.MarketWSURL)
	}

	return c
}

// Close releases notifier sessions and the websocket.
func (c *Clients) Close() error {
	if c.PolymarketEvents != nil {
		_ = c.PolymarketEvents.Close()
	}
	if c.Notifier != nil {
		return c.Notifier.Close()
	}
	return nil
}
