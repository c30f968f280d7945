package discord

import (
	"fmt"
	"polycopy/clients/notifier"
	"polycopy/config"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorExecuted   = 0x2ECC71
	colorMonitoring = 0x3498DB
	colorFailed     = 0xE74C3C
	colorTakeProfit = 0xF1C40F
	colorSummary    = 0x95A5A6
)

// embedSender is the part of discordgo.Session the client uses.
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   embedSender
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// SendCopyTradeAlert implements notifier.Notifier.
func (dc *DiscordClient) SendCopyTradeAlert(alert notifier.CopyTradeAlert) error {
	if err := dc.sendEmbed(buildCopyTradeEmbed(alert)); err != nil {
		return err
	}
	dc.logger.Info("sent discord copy trade alert",
		zap.String("session", alert.SessionID),
		zap.String("market", alert.MarketTitle),
	)
	return nil
}

// SendPositionClosed implements notifier.Notifier.
func (dc *DiscordClient) SendPositionClosed(alert notifier.PositionClosedAlert) error {
	return dc.sendEmbed(buildPositionClosedEmbed(alert))
}

// SendSessionSummary implements notifier.Notifier.
func (dc *DiscordClient) SendSessionSummary(summary notifier.SessionSummary) error {
	return dc.sendEmbed(buildSummaryEmbed(summary))
}

func (dc *DiscordClient) sendEmbed(embed *discordgo.MessageEmbed) error {
	if dc.session == nil || dc.channelID == "" {
		dc.logger.Debug("discord session not initialized, skipping embed")
		return notifier.ErrNotConfigured
	}
	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return fmt.Errorf("send discord embed: %w", err)
	}
	return nil
}

func buildCopyTradeEmbed(alert notifier.CopyTradeAlert) *discordgo.MessageEmbed {
	color := colorMonitoring
	switch alert.Status {
	case notifier.StatusExecuted:
		color = colorExecuted
	case notifier.StatusFailed:
		color = colorFailed
	}

	traderDisplay := alert.TraderName
	if alert.TraderAddress != "" {
		shortAddr := shortAddress(alert.TraderAddress)
		if traderDisplay == "" {
			traderDisplay = shortAddr
		} else if traderDisplay != shortAddr {
			traderDisplay = fmt.Sprintf("%s (%s)", traderDisplay, shortAddr)
		}
	}
	if traderDisplay == "" {
		traderDisplay = "N/A"
	}
	if alert.WalletURL != "" {
		traderDisplay = fmt.Sprintf("[%s](%s)", traderDisplay, alert.WalletURL)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Trader", Value: traderDisplay, Inline: true},
		{Name: "Size", Value: fmt.Sprintf("$%.2f @ $%.3f", alert.Notional, alert.Price), Inline: true},
		{Name: "Status", Value: alert.Status.Label(), Inline: true},
		{Name: "Filter", Value: orNA(alert.FilterReason), Inline: true},
	}
	if alert.Margin > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Margin", Value: fmt.Sprintf("$%.2f", alert.Margin), Inline: true,
		})
	}
	if alert.ExecutionMessage != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Details", Value: alert.ExecutionMessage,
		})
	}

	ts := timestampOrNow(alert.Timestamp)
	return &discordgo.MessageEmbed{
		Title:       "📈 New copy trade",
		URL:         alert.MarketURL,
		Description: fmt.Sprintf("**%s**\nOutcome: %s", alert.MarketTitle, alert.Outcome),
		Color:       color,
		Fields:      fields,
		Footer:      footer(ts),
		Timestamp:   ts.Format(time.RFC3339),
	}
}

func buildPositionClosedEmbed(alert notifier.PositionClosedAlert) *discordgo.MessageEmbed {
	title, color := "🛑 Stop-loss triggered", colorFailed
	if alert.Trigger == "take_profit" {
		title, color = "🎯 Take-profit triggered", colorTakeProfit
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "P&L", Value: fmt.Sprintf("%+.2f%%", alert.PnlPercent), Inline: true},
		{Name: "Sold", Value: fmt.Sprintf("%.2f shares", alert.SoldSize), Inline: true},
	}
	if alert.Message != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: alert.Message})
	}

	ts := timestampOrNow(alert.Timestamp)
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("**%s**\nOutcome: %s", alert.MarketTitle, alert.Outcome),
		Color:       color,
		Fields:      fields,
		Footer:      footer(ts),
		Timestamp:   ts.Format(time.RFC3339),
	}
}

func buildSummaryEmbed(s notifier.SessionSummary) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Trader", Value: orNA(shortAddress(s.TraderAddress)), Inline: true},
		{Name: "Reason", Value: orNA(s.Reason), Inline: true},
		{Name: "Duration", Value: s.Duration().Round(time.Second).String(), Inline: true},
		{Name: "Trades found", Value: fmt.Sprintf("%d", s.TotalFound), Inline: true},
		{Name: "Markets tracked", Value: fmt.Sprintf("%d", s.MarketsTracked), Inline: true},
		{Name: "Executed", Value: fmt.Sprintf("%d", s.Executed), Inline: true},
	}
	if s.Closed > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Closed by SL/TP", Value: fmt.Sprintf("%d", s.Closed), Inline: true,
		})
	}

	ts := timestampOrNow(s.EndedAt)
	return &discordgo.MessageEmbed{
		Title:     "🏁 Copy trading session finished",
		Color:     colorSummary,
		Fields:    fields,
		Footer:    footer(ts),
		Timestamp: ts.Format(time.RFC3339),
	}
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}

func footer(ts time.Time) *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("polycopy * %s", ts.UTC().Format("1/2/2006, 3:04:05PM (MST)")),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
