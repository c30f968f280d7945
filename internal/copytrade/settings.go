package copytrade

import (
	"fmt"
	"time"
)

// SettingsInput carries the raw values a session is configured with.
type SettingsInput struct {
	Window            time.Duration
	StartedAt         time.Time
	RequireFirstBet   bool
	MinNotional       float64
	MinPrice          float64
	MaxPrice          float64
	StopLossPercent   *float64
	TakeProfitPercent *float64
}

// SettingsError reports the first invalid settings field.
type SettingsError struct {
	Field   string
	Message string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("invalid settings: %s %s", e.Field, e.Message)
}

// Settings is the replication policy of one session. It is immutable once
// built by NewSettings.
type Settings struct {
	window          time.Duration
	startedAt       time.Time
	requireFirstBet bool
	minNotional     float64
	minPrice        float64
	maxPrice        float64
	stopLoss        *float64
	takeProfit      *float64
}

// NewSettings validates in and returns the resulting Settings.
func NewSettings(in SettingsInput) (Settings, error) {
	switch {
	case in.Window <= 0:
		return Settings{}, &SettingsError{Field: "window", Message: "must be positive"}
	case in.StartedAt.IsZero():
		return Settings{}, &SettingsError{Field: "started_at", Message: "must be set"}
	case in.MinNotional < 0:
		return Settings{}, &SettingsError{Field: "min_notional", Message: "must be non-negative"}
	case in.MinPrice < 0 || in.MinPrice > 1:
		return Settings{}, &SettingsError{Field: "min_price", Message: "must be between 0 and 1"}
	case in.MaxPrice < 0 || in.MaxPrice > 1:
		return Settings{}, &SettingsError{Field: "max_price", Message: "must be between 0 and 1"}
	case in.MinPrice >= in.MaxPrice:
		return Settings{}, &SettingsError{Field: "max_price", Message: "must be greater than min_price"}
	}
	if in.StopLossPercent != nil {
		if sl := *in.StopLossPercent; sl >= 0 || sl < -100 {
			return Settings{}, &SettingsError{Field: "stop_loss_percent", Message: "must be in [-100, 0)"}
		}
	}
	if in.TakeProfitPercent != nil && *in.TakeProfitPercent <= 0 {
		return Settings{}, &SettingsError{Field: "take_profit_percent", Message: "must be positive"}
	}

	return Settings{
		window:          in.Window,
		startedAt:       in.StartedAt,
		requireFirstBet: in.RequireFirstBet,
		minNotional:     in.MinNotional,
		minPrice:        in.MinPrice,
		maxPrice:        in.MaxPrice,
		stopLoss:        copyFloat(in.StopLossPercent),
		takeProfit:      copyFloat(in.TakeProfitPercent),
	}, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (s Settings) Window() time.Duration { return s.window }
func (s Settings) StartedAt() time.Time  { return s.startedAt }
func (s Settings) RequireFirstBet() bool { return s.requireFirstBet }
func (s Settings) MinNotional() float64  { return s.minNotional }
func (s Settings) MinPrice() float64     { return s.minPrice }
func (s Settings) MaxPrice() float64     { return s.maxPrice }

// Deadline is the instant the session expires.
func (s Settings) Deadline() time.Time { return s.startedAt.Add(s.window) }

// Expired reports whether the window has fully elapsed at now.
func (s Settings) Expired(now time.Time) bool {
	return now.Sub(s.startedAt) >= s.window
}

// StopLoss returns the stop-loss threshold in percent, if any.
func (s Settings) StopLoss() (float64, bool) {
	if s.stopLoss == nil {
		return 0, false
	}
	return *s.stopLoss, true
}

// TakeProfit returns the take-profit threshold in percent, if any.
func (s Settings) TakeProfit() (float64, bool) {
	if s.takeProfit == nil {
		return 0, false
	}
	return *s.takeProfit, true
}

// HasExitRules is true when either stop-loss or take-profit is configured.
func (s Settings) HasExitRules() bool {
	return s.stopLoss != nil || s.takeProfit != nil
}
