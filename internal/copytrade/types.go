// Package copytrade holds the monitoring loop that replicates a tracked
// wallet's trades, together with its filter rules, dedup and throttle
// ledgers, execution retry policy and stop-loss/take-profit reconciler.
//
// One Monitor owns all of its state. Sessions for different users use
// separate Monitor instances and share nothing.
package copytrade

import (
	"context"
	"time"
)

// Trade is a buy observed on the tracked wallet.
type Trade struct {
	ConditionID     string    `json:"condition_id"`
	Title           string    `json:"title"`
	Outcome         string    `json:"outcome"`
	Price           float64   `json:"price"`
	UsdcSize        float64   `json:"usdc_size"`
	TokenID         string    `json:"token_id"`
	Slug            string    `json:"slug"`
	Side            string    `json:"side,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
}

// MarketKey identifies a market/outcome pair for throttling and first-bet
// checks.
func (t Trade) MarketKey() string {
	return t.Title + "_" + t.Outcome
}

// TrackedPosition is a position this session opened by replicating a trade.
type TrackedPosition struct {
	Title    string    `json:"title"`
	Outcome  string    `json:"outcome"`
	TokenID  string    `json:"token_id"`
	Size     float64   `json:"size"` // USDC committed
	OpenedAt time.Time `json:"opened_at"`
}

// LivePosition is an open position on the user's own account.
// PercentRealizedPnl is nil when the data source did not report it.
type LivePosition struct {
	Title              string   `json:"title"`
	Outcome            string   `json:"outcome"`
	TokenID            string   `json:"token_id"`
	Size               float64  `json:"size"`
	CurPrice           float64  `json:"cur_price"`
	CurrentValue       float64  `json:"current_value"`
	PercentRealizedPnl *float64 `json:"percent_realized_pnl,omitempty"`
}

// ExitTrigger names the rule that closed a tracked position.
type ExitTrigger string

const (
	TriggerStopLoss   ExitTrigger = "stop_loss"
	TriggerTakeProfit ExitTrigger = "take_profit"
)

// ClosedPosition reports a tracked position sold by the reconciler.
type ClosedPosition struct {
	Position   TrackedPosition `json:"position"`
	Trigger    ExitTrigger     `json:"trigger"`
	PnlPercent float64         `json:"pnl_percent"`
	SoldSize   float64         `json:"sold_size"`
	Message    string          `json:"message"`
}

// ExitReason is the terminal state of a monitoring run.
type ExitReason string

const (
	ExpiredByTimeout ExitReason = "expired_by_timeout"
	CancelledByUser  ExitReason = "cancelled_by_user"
	FailedFatally    ExitReason = "failed_fatally"
)

// Description returns the human readable reason shown to users.
func (r ExitReason) Description() string {
	switch r {
	case ExpiredByTimeout:
		return "monitoring time expired"
	case CancelledByUser:
		return "monitoring stopped by user"
	case FailedFatally:
		return "monitoring failed"
	default:
		return string(r)
	}
}

// Stats is a consistent snapshot of a session's counters.
type Stats struct {
	TotalFound       int `json:"total_found"`
	MarketsTracked   int `json:"markets_tracked"`
	TrackedPositions int `json:"tracked_positions"`
	ProcessedCount   int `json:"processed_count"`
	Executed         int `json:"executed"`
	Closed           int `json:"closed"`
}

// Notification is delivered to the caller once per accepted trade.
type Notification struct {
	Trade            Trade  `json:"trade"`
	FilterReason     string `json:"filter_reason"`
	Executed         bool   `json:"executed"`
	ExecutionMessage string `json:"execution_message"`
}

// Callback receives accepted-trade notifications. Errors and panics are
// logged and never stop the loop.
type Callback func(ctx context.Context, n Notification) error

// ExitHandler receives positions closed by stop-loss or take-profit.
type ExitHandler func(ctx context.Context, closed ClosedPosition)

// MarketDataSource is polled for the tracked wallet's recent buys and the
// user's own open positions.
type MarketDataSource interface {
	RecentBets(ctx context.Context) ([]Trade, error)
	AccountPositions(ctx context.Context) ([]LivePosition, error)
}

// TradingGateway places orders for the user. Buy spends amount USDC, Sell
// disposes of size shares. A nil error means the order was accepted.
type TradingGateway interface {
	Buy(ctx context.Context, tokenID string, amount float64) (string, error)
	Sell(ctx context.Context, tokenID string, size float64) (string, error)
	IsReady() bool
	EnsureAuthenticated(ctx context.Context) error
}

// PriceWatcher receives the tokens of open positions. Price events it
// observes are pushed back through Monitor.NudgeExitCheck.
type PriceWatcher interface {
	Watch(tokenID string)
	Unwatch(tokenID string)
}
