package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"polycopy/clients/polymarketevents"
	"polycopy/internal/copytrade"

	"go.uber.org/zap"
)

// marketFeed is the market websocket as the hub uses it.
type marketFeed interface {
	ConnectMarket(ctx context.Context, assetIDs []string) error
	Connected() bool
	SubscribeAssets(assetIDs []string) error
	UnsubscribeAssets(assetIDs []string) error
	Messages() <-chan json.RawMessage
	Errors() <-chan error
	Stats() polymarketevents.WSStats
	Close() error
}

var _ marketFeed = (*polymarketevents.PolymarketEventsClient)(nil)

const (
	defaultReconnectEvery = 30 * time.Second
	staleFeedAfter        = 2 * time.Minute
)

// PriceHub shares one market websocket between all sessions. Sessions
// register the tokens of their open positions; every price event for such
// a token nudges the owning sessions into an immediate SL/TP check.
type PriceHub struct {
	logger         *zap.Logger
	feed           marketFeed
	reconnectEvery time.Duration
	kick           chan struct{}

	mu       sync.Mutex
	watchers map[string]map[*sessionWatcher]int // token -> watcher -> refs
	prices   map[string]float64

	updates atomic.Uint64
}

// NewPriceHub creates a hub over feed. A nil feed yields a hub that only
// keeps registrations; sessions then rely on their polling interval.
func NewPriceHub(logger *zap.Logger, feed marketFeed) *PriceHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceHub{
		logger:         logger,
		feed:           feed,
		reconnectEvery: defaultReconnectEvery,
		kick:           make(chan struct{}, 1),
		watchers:       make(map[string]map[*sessionWatcher]int),
		prices:         make(map[string]float64),
	}
}

// NewWatcher returns the copytrade.PriceWatcher of one session. nudge is
// called on every price event for a watched token.
func (h *PriceHub) NewWatcher(nudge func()) copytrade.PriceWatcher {
	return &sessionWatcher{hub: h, nudge: nudge}
}

type sessionWatcher struct {
	hub   *PriceHub
	nudge func()
}

func (w *sessionWatcher) Watch(tokenID string)   { w.hub.add(w, tokenID) }
func (w *sessionWatcher) Unwatch(tokenID string) { w.hub.remove(w, tokenID) }

func (h *PriceHub) add(w *sessionWatcher, tokenID string) {
	if tokenID == "" {
		return
	}
	h.mu.Lock()
	set, ok := h.watchers[tokenID]
	if !ok {
		set = make(map[*sessionWatcher]int)
		h.watchers[tokenID] = set
	}
	set[w]++
	h.mu.Unlock()

	if !ok {
		h.subscribe(tokenID)
	}
}

func (h *PriceHub) remove(w *sessionWatcher, tokenID string) {
	h.mu.Lock()
	set, ok := h.watchers[tokenID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if set[w] <= 1 {
		delete(set, w)
	} else {
		set[w]--
	}
	last := len(set) == 0
	if last {
		delete(h.watchers, tokenID)
		delete(h.prices, tokenID)
	}
	h.mu.Unlock()

	if last && h.feed != nil && h.feed.Connected() {
		if err := h.feed.UnsubscribeAssets([]string{tokenID}); err != nil {
			h.logger.Debug("unsubscribe failed", zap.String("token", shortID(tokenID)), zap.Error(err))
		}
	}
}

func (h *PriceHub) subscribe(tokenID string) {
	if h.feed == nil {
		return
	}
	if !h.feed.Connected() {
		h.requestConnect()
		return
	}
	if err := h.feed.SubscribeAssets([]string{tokenID}); err != nil {
		h.logger.Warn("subscribe failed", zap.String("token", shortID(tokenID)), zap.Error(err))
		h.requestConnect()
	}
}

func (h *PriceHub) requestConnect() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Tokens returns the watched tokens, sorted.
func (h *PriceHub) Tokens() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.watchers))
	for t := range h.watchers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// LastPrice returns the last observed price of a watched token.
func (h *PriceHub) LastPrice(tokenID string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.prices[tokenID]
	return p, ok
}

// PriceHubStats is exposed on /stats.
type PriceHubStats struct {
	Enabled       bool   `json:"enabled"`
	Connected     bool   `json:"connected"`
	Tokens        int    `json:"tokens"`
	PriceUpdates  uint64 `json:"price_updates"`
	MessageCount  uint64 `json:"message_count"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

func (h *PriceHub) Stats() PriceHubStats {
	h.mu.Lock()
	tokens := len(h.watchers)
	h.mu.Unlock()

	stats := PriceHubStats{
		Enabled:      h.feed != nil,
		Tokens:       tokens,
		PriceUpdates: h.updates.Load(),
	}
	if h.feed != nil {
		ws := h.feed.Stats()
		stats.Connected = h.feed.Connected()
		stats.MessageCount = ws.MessageCount
		if !ws.LastMessageAt.IsZero() {
			stats.LastMessageAt = ws.LastMessageAt.UTC().Format(time.RFC3339)
		}
	}
	return stats
}

// Run reads the feed and keeps it connected while tokens are watched.
// It returns when ctx is done.
func (h *PriceHub) Run(ctx context.Context) {
	if h.feed == nil {
		<-ctx.Done()
		return
	}
	defer func() { _ = h.feed.Close() }()

	ticker := time.NewTicker(h.reconnectEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.feed.Messages():
			h.dispatch(msg)
		case err := <-h.feed.Errors():
			h.logger.Warn("market feed error", zap.Error(err))
		case <-h.kick:
			h.ensureConnected(ctx)
		case <-ticker.C:
			h.checkHealth()
			h.ensureConnected(ctx)
		}
	}
}

func (h *PriceHub) dispatch(msg json.RawMessage) {
	for _, u := range polymarketevents.ParsePriceUpdates(msg) {
		h.mu.Lock()
		set, ok := h.watchers[u.AssetID]
		var nudges []func()
		if ok {
			h.prices[u.AssetID] = u.Price
			for w := range set {
				nudges = append(nudges, w.nudge)
			}
		}
		h.mu.Unlock()

		if !ok {
			continue
		}
		h.updates.Add(1)
		for _, nudge := range nudges {
			if nudge != nil {
				nudge()
			}
		}
	}
}

// checkHealth drops a connection that stopped delivering messages.
func (h *PriceHub) checkHealth() {
	if !h.feed.Connected() {
		return
	}
	stats := h.feed.Stats()
	if stats.MessageCount > 0 && time.Since(stats.LastMessageAt) > staleFeedAfter {
		h.logger.Warn("market feed appears stale, reconnecting",
			zap.Duration("since_last_message", time.Since(stats.LastMessageAt)),
		)
		_ = h.feed.Close()
	}
}

func (h *PriceHub) ensureConnected(ctx context.Context) {
	if h.feed.Connected() {
		return
	}
	tokens := h.Tokens()
	if len(tokens) == 0 {
		return
	}
	// The connection lives until ctx is done.
	if err := h.feed.ConnectMarket(ctx, tokens); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Warn("market feed connect failed", zap.Error(err))
		return
	}
	h.logger.Info("market feed connected", zap.Int("tokens", len(tokens)))
}
