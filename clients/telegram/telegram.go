package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"polycopy/clients/notifier"
	"polycopy/config"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	apiBase  string
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger:  logger,
			apiBase: defaultAPIBase,
			chatID:  chatID,
			isProd:  cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		apiBase:  defaultAPIBase,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendCopyTradeAlert implements notifier.Notifier.
func (tc *TelegramClient) SendCopyTradeAlert(alert notifier.CopyTradeAlert) error {
	if err := tc.send(alert.ChatID, buildCopyTradeMessage(alert)); err != nil {
		return err
	}
	tc.logger.Info("sent telegram copy trade alert",
		zap.String("session", alert.SessionID),
		zap.String("market", alert.MarketTitle),
	)
	return nil
}

// SendPositionClosed implements notifier.Notifier.
func (tc *TelegramClient) SendPositionClosed(alert notifier.PositionClosedAlert) error {
	return tc.send(alert.ChatID, buildPositionClosedMessage(alert))
}

// SendSessionSummary implements notifier.Notifier.
func (tc *TelegramClient) SendSessionSummary(summary notifier.SessionSummary) error {
	return tc.send(summary.ChatID, buildSummaryMessage(summary))
}

func (tc *TelegramClient) send(chatID int64, text string) error {
	target := tc.chatID
	if chatID != 0 {
		target = strconv.FormatInt(chatID, 10)
	}
	if tc.botToken == "" || target == "" {
		tc.logger.Debug("telegram not configured, skipping message")
		return notifier.ErrNotConfigured
	}
	if err := tc.sendMessage(target, text); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return err
	}
	return nil
}

func buildCopyTradeMessage(alert notifier.CopyTradeAlert) string {
	var sb strings.Builder

	sb.WriteString("*📈 New copy trade*\n\n")

	if alert.MarketURL != "" {
		sb.WriteString(fmt.Sprintf("*Market:* [%s](%s)\n", escapeMarkdown(alert.MarketTitle), alert.MarketURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Market:* %s\n", escapeMarkdown(alert.MarketTitle)))
	}
	sb.WriteString(fmt.Sprintf("*Outcome:* %s\n", escapeMarkdown(alert.Outcome)))
	sb.WriteString(fmt.Sprintf("*Size:* $%.2f @ $%.3f\n", alert.Notional, alert.Price))

	traderDisplay := alert.TraderName
	if alert.TraderAddress != "" {
		shortAddr := shortAddress(alert.TraderAddress)
		if traderDisplay == "" {
			traderDisplay = shortAddr
		} else if traderDisplay != shortAddr {
			traderDisplay = fmt.Sprintf("%s (%s)", traderDisplay, shortAddr)
		}
	}
	if traderDisplay != "" {
		if alert.WalletURL != "" {
			sb.WriteString(fmt.Sprintf("*Trader:* [%s](%s)\n", escapeMarkdown(traderDisplay), alert.WalletURL))
		} else {
			sb.WriteString(fmt.Sprintf("*Trader:* %s\n", escapeMarkdown(traderDisplay)))
		}
	}

	sb.WriteString(fmt.Sprintf("\n*Filter:* %s\n", escapeMarkdown(alert.FilterReason)))
	sb.WriteString(fmt.Sprintf("*Status:* %s\n", alert.Status.Label()))
	if alert.Margin > 0 {
		sb.WriteString(fmt.Sprintf("*Margin:* $%.2f\n", alert.Margin))
	}
	if alert.ExecutionMessage != "" {
		sb.WriteString(fmt.Sprintf("*Details:* %s\n", escapeMarkdown(alert.ExecutionMessage)))
	}

	sb.WriteString(footer(alert.Timestamp))
	return sb.String()
}

func buildPositionClosedMessage(alert notifier.PositionClosedAlert) string {
	var sb strings.Builder

	title := "🛑 Stop-loss triggered"
	if alert.Trigger == "take_profit" {
		title = "🎯 Take-profit triggered"
	}
	sb.WriteString(fmt.Sprintf("*%s*\n\n", title))
	sb.WriteString(fmt.Sprintf("*Market:* %s\n", escapeMarkdown(alert.MarketTitle)))
	sb.WriteString(fmt.Sprintf("*Outcome:* %s\n", escapeMarkdown(alert.Outcome)))
	sb.WriteString(fmt.Sprintf("*P&L:* %+.2f%%\n", alert.PnlPercent))
	sb.WriteString(fmt.Sprintf("*Sold:* %.2f shares\n", alert.SoldSize))
	if alert.Message != "" {
		sb.WriteString(fmt.Sprintf("*Details:* %s\n", escapeMarkdown(alert.Message)))
	}

	sb.WriteString(footer(alert.Timestamp))
	return sb.String()
}

func buildSummaryMessage(s notifier.SessionSummary) string {
	var sb strings.Builder

	sb.WriteString("*🏁 Copy trading session finished*\n\n")
	if s.TraderAddress != "" {
		sb.WriteString(fmt.Sprintf("*Trader:* %s\n", escapeMarkdown(shortAddress(s.TraderAddress))))
	}
	if s.Reason != "" {
		sb.WriteString(fmt.Sprintf("*Reason:* %s\n", escapeMarkdown(s.Reason)))
	}
	sb.WriteString(fmt.Sprintf("*Duration:* %s\n", s.Duration().Round(time.Second)))
	sb.WriteString(fmt.Sprintf("*Trades found:* %d\n", s.TotalFound))
	sb.WriteString(fmt.Sprintf("*Markets tracked:* %d\n", s.MarketsTracked))
	sb.WriteString(fmt.Sprintf("*Executed:* %d\n", s.Executed))
	if s.Closed > 0 {
		sb.WriteString(fmt.Sprintf("*Closed by SL/TP:* %d\n", s.Closed))
	}

	sb.WriteString(footer(s.EndedAt))
	return sb.String()
}

func footer(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("\n_polycopy • %s_", ts.UTC().Format("1/2/2006, 3:04:05PM (MST)"))
}

func (tc *TelegramClient) sendMessage(chatID, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
