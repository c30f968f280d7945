package copytrade

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Reconciler closes tracked positions whose realized PnL crosses the
// stop-loss or take-profit threshold.
type Reconciler struct {
	logger   *zap.Logger
	settings Settings
	source   MarketDataSource
	executor *Executor
}

// NewReconciler returns a reconciler for settings.
func NewReconciler(logger *zap.Logger, settings Settings, source MarketDataSource, executor *Executor) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		logger:   logger,
		settings: settings,
		source:   source,
		executor: executor,
	}
}

// Active reports whether reconciliation has anything to do.
func (r *Reconciler) Active() bool {
	return r.settings.HasExitRules() && r.executor.Enabled()
}

// Reconcile checks every tracked position once. Positions that vanished
// from the account, or were sold, are left out of remaining. If the
// account positions cannot be fetched, tracked is returned unchanged with
// the error.
func (r *Reconciler) Reconcile(ctx context.Context, tracked []TrackedPosition) (remaining []TrackedPosition, closed []ClosedPosition, err error) {
	if !r.Active() || len(tracked) == 0 {
		return tracked, nil, nil
	}

	live, err := r.source.AccountPositions(ctx)
	if err != nil {
		return tracked, nil, fmt.Errorf("fetch account positions: %w", err)
	}

	sl, hasSL := r.settings.StopLoss()
	tp, hasTP := r.settings.TakeProfit()

	// Several tracked entries can share one live position. It is sold once.
	sold := make(map[string]bool)

	remaining = make([]TrackedPosition, 0, len(tracked))
	for _, pos := range tracked {
		if ctx.Err() != nil {
			remaining = append(remaining, pos)
			continue
		}

		lp, ok := matchLivePosition(pos, live)
		if !ok || lp.Size <= 0 {
			r.logger.Info("tracked position closed externally", zap.String("market", pos.Title))
			continue
		}
		key := liveKey(lp)
		if sold[key] {
			r.logger.Info("tracked position closed with its market", zap.String("market", pos.Title))
			continue
		}
		if lp.PercentRealizedPnl == nil {
			remaining = append(remaining, pos)
			continue
		}
		pnl := *lp.PercentRealizedPnl

		var trigger ExitTrigger
		switch {
		case hasSL && pnl <= sl:
			trigger = TriggerStopLoss
		case hasTP && pnl >= tp:
			trigger = TriggerTakeProfit
		default:
			remaining = append(remaining, pos)
			continue
		}

		tokenID := lp.TokenID
		if tokenID == "" {
			tokenID = pos.TokenID
		}
		msg, err := r.executor.ClosePosition(ctx, tokenID, lp.Size)
		if err != nil {
			r.logger.Warn("failed to close position",
				zap.String("market", pos.Title),
				zap.String("trigger", string(trigger)),
				zap.Error(err),
			)
			remaining = append(remaining, pos)
			continue
		}

		sold[key] = true
		r.logger.Info("position closed",
			zap.String("market", pos.Title),
			zap.String("trigger", string(trigger)),
			zap.Float64("pnl_percent", pnl),
			zap.Float64("size", lp.Size),
		)
		closed = append(closed, ClosedPosition{
			Position:   pos,
			Trigger:    trigger,
			PnlPercent: pnl,
			SoldSize:   lp.Size,
			Message:    msg,
		})
	}
	return remaining, closed, nil
}

func liveKey(lp LivePosition) string {
	if lp.TokenID != "" {
		return lp.TokenID
	}
	return lp.Title + "|" + lp.Outcome
}

// matchLivePosition finds the live position for pos by market title. When
// several share the title the one with the same token or outcome wins.
func matchLivePosition(pos TrackedPosition, live []LivePosition) (LivePosition, bool) {
	var (
		found LivePosition
		ok    bool
	)
	for _, lp := range live {
		if lp.Title != pos.Title {
			continue
		}
		if pos.TokenID != "" && lp.TokenID == pos.TokenID {
			return lp, true
		}
		if !ok || (lp.Outcome == pos.Outcome && found.Outcome != pos.Outcome) {
			found, ok = lp, true
		}
	}
	return found, ok
}
