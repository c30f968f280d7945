package copytrade

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Filter reasons returned by FilterEngine.Evaluate.
const (
	ReasonTooSmall      = "too small"
	ReasonPriceOutRange = "price out of range"
	ReasonRateLimited   = "rate limited"
	ReasonFetchFailed   = "could not fetch recent bets"
	ReasonNotFirstBet   = "not the first bet on this market"
	ReasonPassed        = "passed all filters"
)

// FilterEngine decides whether a trade should be replicated.
type FilterEngine struct {
	logger   *zap.Logger
	settings Settings
	throttle *ThrottleLedger
	source   MarketDataSource
	now      func() time.Time
}

// NewFilterEngine builds a filter over settings. source is only consulted
// when the first-bet rule is enabled.
func NewFilterEngine(logger *zap.Logger, settings Settings, throttle *ThrottleLedger, source MarketDataSource) *FilterEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if throttle == nil {
		throttle = NewThrottleLedger(0, 0)
	}
	return &FilterEngine{
		logger:   logger,
		settings: settings,
		throttle: throttle,
		source:   source,
		now:      time.Now,
	}
}

// Evaluate applies the rules in order and stops at the first rejection.
// accepted is nil when the trade is rejected.
//
// A throttle slot reserved by rule 3 stays spent when the first-bet rule
// rejects the trade afterwards.
func (f *FilterEngine) Evaluate(ctx context.Context, trade Trade) (reason string, accepted *Trade) {
	s := f.settings

	if trade.UsdcSize < s.MinNotional() {
		return ReasonTooSmall, nil
	}
	if !(s.MinPrice() < trade.Price && trade.Price < s.MaxPrice()) {
		return ReasonPriceOutRange, nil
	}
	if !f.throttle.ReserveSlot(trade.MarketKey(), f.now()) {
		f.logger.Info("order limit reached for market",
			zap.String("market", trade.MarketKey()),
		)
		return ReasonRateLimited, nil
	}

	if s.RequireFirstBet() {
		if f.source == nil {
			return ReasonFetchFailed, nil
		}
		recent, err := f.source.RecentBets(ctx)
		if err != nil {
			f.logger.Warn("first bet check failed", zap.Error(err))
			return ReasonFetchFailed, nil
		}
		same := 0
		for _, r := range recent {
			if r.Title == trade.Title && r.Outcome == trade.Outcome {
				same++
			}
		}
		if same > 1 {
			return ReasonNotFirstBet, nil
		}
	}

	return ReasonPassed, &trade
}
