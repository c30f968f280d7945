package copytrade

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Execution messages returned by Executor.ExecuteTrade.
const (
	MessageMonitoringOnly = "monitoring only"
	MessageMissingToken   = "missing token id"
)

// Executor places replication and exit orders through a TradingGateway.
type Executor struct {
	logger  *zap.Logger
	gateway TradingGateway
	margin  float64
	retry   RetryPolicy
}

// NewExecutor returns an executor spending margin USDC per replicated
// trade. A nil gateway or non-positive margin disables trading.
func NewExecutor(logger *zap.Logger, gateway TradingGateway, margin float64, retry RetryPolicy) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:  logger,
		gateway: gateway,
		margin:  margin,
		retry:   retry,
	}
}

// Enabled reports whether orders will be placed.
func (e *Executor) Enabled() bool {
	return e != nil && e.gateway != nil && e.margin > 0
}

// Margin is the USDC amount spent per replicated trade.
func (e *Executor) Margin() float64 { return e.margin }

// ExecuteTrade buys trade's token for the configured margin. Failures are
// reported through the message, never as an error.
func (e *Executor) ExecuteTrade(ctx context.Context, trade Trade) (executed bool, message string) {
	if !e.Enabled() {
		return false, MessageMonitoringOnly
	}
	if trade.TokenID == "" {
		return false, MessageMissingToken
	}

	e.logger.Info("executing trade",
		zap.String("token_id", trade.TokenID),
		zap.String("market", trade.MarketKey()),
		zap.Float64("amount", e.margin),
	)

	msg, err := e.place(ctx, func(ctx context.Context) (string, error) {
		return e.gateway.Buy(ctx, trade.TokenID, e.margin)
	})
	if err != nil {
		e.logger.Warn("trade execution failed", zap.String("token_id", trade.TokenID), zap.Error(err))
		return false, err.Error()
	}
	return true, msg
}

// ClosePosition sells size shares of tokenID.
func (e *Executor) ClosePosition(ctx context.Context, tokenID string, size float64) (string, error) {
	if e == nil || e.gateway == nil {
		return "", ErrTradingDisabled
	}
	return e.place(ctx, func(ctx context.Context) (string, error) {
		return e.gateway.Sell(ctx, tokenID, size)
	})
}

// place runs call under the retry policy. An authorization failure is not
// retried by the policy; it triggers one credential refresh followed by a
// single further attempt.
func (e *Executor) place(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	if !e.gateway.IsReady() {
		if err := e.gateway.EnsureAuthenticated(ctx); err != nil {
			return "", fmt.Errorf("authentication failed: %w", err)
		}
	}

	var msg string
	err := e.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		m, err := call(ctx)
		if err != nil {
			if attempt > 1 || IsTransient(err) {
				e.logger.Debug("order attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		msg = m
		return nil
	})
	if err == nil {
		return msg, nil
	}
	if !IsUnauthorized(err) {
		return "", fmt.Errorf("execution failed: %w", err)
	}

	e.logger.Info("order unauthorized, refreshing credentials")
	if rerr := e.gateway.EnsureAuthenticated(ctx); rerr != nil {
		return "", fmt.Errorf("credential refresh failed: %w", rerr)
	}
	msg, err = call(ctx)
	if err != nil {
		return "", fmt.Errorf("execution failed after credential refresh: %w", err)
	}
	return msg, nil
}
