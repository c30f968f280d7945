package app

import (
	"context"
	"sync"
	"time"

	"polycopy/clients/polymarketapi"
	"polycopy/internal/copytrade"

	"go.uber.org/zap"
)

// PolymarketData is the part of the Polymarket API client sessions read.
type PolymarketData interface {
	GetRecentBuys(ctx context.Context, wallet string, window time.Duration, limit int) ([]polymarketapi.Activity, error)
	GetPositions(ctx context.Context, wallet string, query polymarketapi.PositionsQuery) ([]polymarketapi.Position, error)
	GetMarketByConditionID(ctx context.Context, conditionID string) (*polymarketapi.GammaMarket, error)
	GetLeaderboardEntry(ctx context.Context, wallet string) (*polymarketapi.LeaderboardEntry, error)
}

var _ PolymarketData = (*polymarketapi.PolymarketApiClient)(nil)

// walletSource adapts the data API to copytrade.MarketDataSource for one
// tracked wallet and one account wallet.
type walletSource struct {
	logger  *zap.Logger
	api     PolymarketData
	trader  string
	account string
	window  time.Duration
	limit   int

	mu     sync.Mutex
	tokens map[string]*polymarketapi.GammaMarket // keyed by condition id
}

func newWalletSource(logger *zap.Logger, api PolymarketData, trader, account string, window time.Duration, limit int) *walletSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 2 * time.Minute
	}
	if limit <= 0 {
		limit = 10
	}
	return &walletSource{
		logger:  logger,
		api:     api,
		trader:  trader,
		account: account,
		window:  window,
		limit:   limit,
		tokens:  make(map[string]*polymarketapi.GammaMarket),
	}
}

var _ copytrade.MarketDataSource = (*walletSource)(nil)

// RecentBets returns the tracked wallet's buys inside the recency window,
// newest first.
func (s *walletSource) RecentBets(ctx context.Context) ([]copytrade.Trade, error) {
	activity, err := s.api.GetRecentBuys(ctx, s.trader, s.window, s.limit)
	if err != nil {
		return nil, err
	}

	trades := make([]copytrade.Trade, 0, len(activity))
	for _, a := range activity {
		t := copytrade.Trade{
			ConditionID:     a.ConditionID,
			Title:           a.Title,
			Outcome:         a.Outcome,
			Price:           a.Price,
			UsdcSize:        a.UsdcSize,
			TokenID:         a.Asset,
			Slug:            a.Slug,
			Side:            a.Side,
			Timestamp:       a.Time(),
			TransactionHash: a.TransactionHash,
		}
		if t.TokenID == "" {
			t.TokenID = s.resolveToken(ctx, a.ConditionID, a.Outcome)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// resolveToken looks the outcome token up on Gamma. Failures leave the
// token empty so the executor reports it.
func (s *walletSource) resolveToken(ctx context.Context, conditionID, outcome string) string {
	if conditionID == "" {
		return ""
	}

	s.mu.Lock()
	market, ok := s.tokens[conditionID]
	s.mu.Unlock()

	if !ok {
		m, err := s.api.GetMarketByConditionID(ctx, conditionID)
		if err != nil {
			s.logger.Warn("failed to resolve token id",
				zap.String("condition_id", shortID(conditionID)),
				zap.Error(err),
			)
			return ""
		}
		market = m
		s.mu.Lock()
		s.tokens[conditionID] = m
		s.mu.Unlock()
	}

	token, _ := market.TokenForOutcome(outcome)
	return token
}

// AccountPositions returns the user's own open positions, or nothing when
// no account wallet is known.
func (s *walletSource) AccountPositions(ctx context.Context) ([]copytrade.LivePosition, error) {
	if s.account == "" {
		return nil, nil
	}
	positions, err := s.api.GetPositions(ctx, s.account, polymarketapi.DefaultPositionsQuery())
	if err != nil {
		return nil, err
	}

	live := make([]copytrade.LivePosition, 0, len(positions))
	for _, p := range positions {
		live = append(live, copytrade.LivePosition{
			Title:              p.Title,
			Outcome:            p.Outcome,
			TokenID:            p.Asset,
			Size:               p.Size,
			CurPrice:           p.CurPrice,
			CurrentValue:       p.CurrentValue,
			PercentRealizedPnl: p.PercentRealizedPnl,
		})
	}
	return live, nil
}
