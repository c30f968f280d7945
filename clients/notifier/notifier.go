package notifier

import (
	"errors"
	"time"
)

// ExecutionStatus is what happened to a copied trade.
type ExecutionStatus string

const (
	StatusExecuted       ExecutionStatus = "executed"
	StatusMonitoringOnly ExecutionStatus = "monitoring_only"
	StatusFailed         ExecutionStatus = "failed"
)

// Label returns the human readable status line.
func (s ExecutionStatus) Label() string {
	switch s {
	case StatusExecuted:
		return "✅ Executed"
	case StatusMonitoringOnly:
		return "👀 Monitoring only"
	case StatusFailed:
		return "❌ Execution failed"
	default:
		return string(s)
	}
}

// CopyTradeAlert is sent for every trade that passed the filters.
type CopyTradeAlert struct {
	SessionID string
	// ChatID is the Telegram chat of the session owner. Zero uses the
	// configured channel.
	ChatID int64

	TraderName    string
	TraderAddress string
	WalletURL     string

	MarketTitle string
	MarketURL   string
	Outcome     string
	Price       float64
	Notional    float64
	Margin      float64

	FilterReason     string
	Status           ExecutionStatus
	ExecutionMessage string
	Timestamp        time.Time
}

// PositionClosedAlert is sent when a stop-loss or take-profit fires.
type PositionClosedAlert struct {
	SessionID string
	ChatID    int64

	MarketTitle string
	Outcome     string
	Trigger     string // stop_loss or take_profit
	PnlPercent  float64
	SoldSize    float64
	Message     string
	Timestamp   time.Time
}

// SessionSummary is sent once when a monitoring session ends.
type SessionSummary struct {
	SessionID     string
	ChatID        int64
	TraderAddress string
	Reason        string

	StartedAt      time.Time
	EndedAt        time.Time
	TotalFound     int
	MarketsTracked int
	Executed       int
	Closed         int
}

// Duration returns how long the session ran.
func (s SessionSummary) Duration() time.Duration {
	if s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// ErrNotConfigured is returned by channels that have no credentials.
var ErrNotConfigured = errors.New("notifier not configured")

// Notifier delivers copy-trading events to a channel.
type Notifier interface {
	SendCopyTradeAlert(alert CopyTradeAlert) error
	SendPositionClosed(alert PositionClosedAlert) error
	SendSessionSummary(summary SessionSummary) error

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendCopyTradeAlert sends the alert to every notifier. It fails only if
// no channel delivered it.
func (m *MultiNotifier) SendCopyTradeAlert(alert CopyTradeAlert) error {
	return m.broadcast(func(n Notifier) error { return n.SendCopyTradeAlert(alert) })
}

// SendPositionClosed sends the alert to every notifier.
func (m *MultiNotifier) SendPositionClosed(alert PositionClosedAlert) error {
	return m.broadcast(func(n Notifier) error { return n.SendPositionClosed(alert) })
}

// SendSessionSummary sends the summary to every notifier.
func (m *MultiNotifier) SendSessionSummary(summary SessionSummary) error {
	return m.broadcast(func(n Notifier) error { return n.SendSessionSummary(summary) })
}

func (m *MultiNotifier) broadcast(send func(Notifier) error) error {
	if len(m.notifiers) == 0 {
		return ErrNotConfigured
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := send(n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.notifiers) {
		return errors.Join(errs...)
	}
	return nil
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
