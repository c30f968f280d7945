package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"polycopy/clients/clob"
	"polycopy/clients/notifier"
	"polycopy/config"
	"polycopy/internal/copytrade"
	"polycopy/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyActive = errors.New("session already active")
	ErrNoSession     = errors.New("no active session")
	ErrNoTrader      = errors.New("no trader address to follow")
	ErrShuttingDown  = errors.New("session manager is shutting down")
)

// GatewayFactory builds the trading gateway of a user.
type GatewayFactory func(user *storage.User) (copytrade.TradingGateway, error)

// NewClobGatewayFactory returns a factory that signs with the user's key
// and trades from the user's proxy wallet.
func NewClobGatewayFactory(logger *zap.Logger, cfg *config.Config) GatewayFactory {
	return func(user *storage.User) (copytrade.TradingGateway, error) {
		cc := clob.Config{
			Host:          cfg.Polymarket.ClobURL,
			ChainID:       cfg.Polymarket.ChainID,
			PrivateKey:    user.PrivateKey,
			Funder:        user.Address,
			SignatureType: cfg.Execution.SignatureType,
			CredentialTTL: cfg.Execution.CredentialTTL,
		}
		if user.APIEnabled() {
			cc.Credentials = &clob.Credentials{
				APIKey:     user.APIKey,
				Secret:     user.APISecret,
				Passphrase: user.APIPassphrase,
			}
		}
		return clob.New(logger, cc)
	}
}

// StartRequest describes a new session. Nil fields fall back to the
// configured session defaults.
type StartRequest struct {
	UserID            int64    `json:"user_id"`
	TraderAddress     string   `json:"trader_address"`
	DurationSeconds   int64    `json:"duration_seconds"`
	MinNotional       *float64 `json:"min_notional"`
	MinPrice          *float64 `json:"min_price"`
	MaxPrice          *float64 `json:"max_price"`
	RequireFirstBet   *bool    `json:"require_first_bet"`
	Margin            *float64 `json:"margin"`
	StopLossPercent   *float64 `json:"stop_loss_percent"`
	TakeProfitPercent *float64 `json:"take_profit_percent"`
}

// SessionInfo is the public view of a running session.
type SessionInfo struct {
	ID             string           `json:"id"`
	UserID         int64            `json:"user_id"`
	TraderAddress  string           `json:"trader_address"`
	TraderName     string           `json:"trader_name,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	Deadline       time.Time        `json:"deadline"`
	TradingEnabled bool             `json:"trading_enabled"`
	Margin         float64          `json:"margin"`
	Stats          copytrade.Stats  `json:"stats"`
	LastTrade      *copytrade.Trade `json:"last_trade,omitempty"`
}

type session struct {
	id        string
	userID    int64
	trader    string
	margin    float64
	startedAt time.Time
	monitor   *copytrade.Monitor
	gateway   copytrade.TradingGateway
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	traderName string
}

func (s *session) name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traderName
}

func (s *session) info() SessionInfo {
	settings := s.monitor.Settings()
	return SessionInfo{
		ID:             s.id,
		UserID:         s.userID,
		TraderAddress:  s.trader,
		TraderName:     s.name(),
		StartedAt:      s.startedAt,
		Deadline:       settings.Deadline(),
		TradingEnabled: s.monitor.TradingEnabled(),
		Margin:         s.margin,
		Stats:          s.monitor.Statistics(),
		LastTrade:      s.monitor.LastTrade(),
	}
}

// SessionManager runs at most one monitoring session per user.
type SessionManager struct {
	logger     *zap.Logger
	live       *config.LiveConfig
	api        PolymarketData
	users      storage.UserStore
	history    storage.SessionStore
	snapshots  storage.SnapshotStore
	notifier   notifier.Notifier
	hub        *PriceHub
	newGateway GatewayFactory
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[int64]*session
	closed   bool
}

// SessionManagerDeps are the collaborators of a SessionManager. Snapshots,
// Notifier, Hub and NewGateway may be nil.
type SessionManagerDeps struct {
	Live       *config.LiveConfig
	API        PolymarketData
	Users      storage.UserStore
	History    storage.SessionStore
	Snapshots  storage.SnapshotStore
	Notifier   notifier.Notifier
	Hub        *PriceHub
	NewGateway GatewayFactory
}

func NewSessionManager(logger *zap.Logger, deps SessionManagerDeps) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewPriceHub(logger, nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		logger:     logger.Named("sessions"),
		live:       deps.Live,
		api:        deps.API,
		users:      deps.Users,
		history:    deps.History,
		snapshots:  deps.Snapshots,
		notifier:   deps.Notifier,
		hub:        hub,
		newGateway: deps.NewGateway,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[int64]*session),
	}
}

// Start launches a session for req.UserID. The session outlives ctx; it
// ends on timeout or Stop.
func (m *SessionManager) Start(ctx context.Context, req StartRequest) (SessionInfo, error) {
	user, err := m.users.Get(ctx, req.UserID)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("load user %d: %w", req.UserID, err)
	}

	trader := config.NormalizeWallet(req.TraderAddress)
	if trader == "" && len(user.TrackAddresses) > 0 {
		trader = user.TrackAddresses[0]
	}
	if trader == "" {
		return SessionInfo{}, ErrNoTrader
	}
	if !isWallet(trader) {
		return SessionInfo{}, fmt.Errorf("trader address %q: %w", trader, storage.ErrInvalidInput)
	}

	m.mu.Lock()
	_, active := m.sessions[user.TelegramID]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return SessionInfo{}, ErrShuttingDown
	}
	if active {
		return SessionInfo{}, ErrAlreadyActive
	}

	cfg := m.live.Get()
	settings, margin, err := buildSettings(cfg.SessionDefaults, req, m.now())
	if err != nil {
		return SessionInfo{}, err
	}

	id := uuid.NewString()
	logger := m.logger.With(
		zap.String("session", id),
		zap.Int64("user", user.TelegramID),
		zap.String("trader", shortID(trader)),
	)

	var gateway copytrade.TradingGateway
	if margin > 0 {
		switch {
		case !user.CanTrade():
			logger.Warn("margin set but user has no private key, monitoring only")
		case user.Address == "":
			logger.Warn("margin set but user has no funder address, monitoring only")
		case m.newGateway == nil:
			logger.Warn("no trading gateway configured, monitoring only")
		default:
			gateway, err = m.newGateway(user)
			if err != nil {
				return SessionInfo{}, fmt.Errorf("create trading gateway: %w", err)
			}
		}
	}

	source := newWalletSource(logger, m.api, trader, user.Address, cfg.Monitor.RecentWindow, cfg.Monitor.ActivityLimit)

	retry := copytrade.RetryPolicy{
		MaxAttempts: cfg.Execution.MaxAttempts,
		Backoff:     cfg.Execution.RetryBackoff,
		Retryable:   copytrade.IsTransient,
	}
	executor := copytrade.NewExecutor(logger.Named("executor"), gateway, margin, retry)

	sess := &session{
		id:        id,
		userID:    user.TelegramID,
		trader:    trader,
		margin:    margin,
		startedAt: settings.StartedAt(),
		gateway:   gateway,
		done:      make(chan struct{}),
	}

	var monitor *copytrade.Monitor
	watcher := m.hub.NewWatcher(func() {
		if monitor != nil {
			monitor.NudgeExitCheck()
		}
	})
	monitor, err = copytrade.NewMonitor(copytrade.MonitorDeps{
		Source:   source,
		Executor: executor,
		Watcher:  watcher,
		OnExit:   m.exitHandler(sess),
	}, settings,
		copytrade.WithLogger(logger.Named("monitor")),
		copytrade.WithTiming(cfg.Monitor.TickInterval, cfg.Monitor.MinSleep, cfg.Monitor.ErrorBackoff, cfg.Monitor.ExitCheckEvery),
		copytrade.WithLedgers(
			copytrade.NewDedupLedger(cfg.Ledger.DedupWindow, cfg.Ledger.DedupRetention),
			copytrade.NewThrottleLedger(cfg.Ledger.ThrottleMaxOrders, cfg.Ledger.ThrottleWindow),
		),
		copytrade.WithClock(m.now),
	)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create monitor: %w", err)
	}
	sess.monitor = monitor

	runCtx, cancel := context.WithCancel(m.ctx)
	sess.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return SessionInfo{}, ErrShuttingDown
	}
	if _, exists := m.sessions[user.TelegramID]; exists {
		m.mu.Unlock()
		cancel()
		return SessionInfo{}, ErrAlreadyActive
	}
	m.sessions[user.TelegramID] = sess
	m.wg.Add(1)
	m.mu.Unlock()

	logger.Info("session started",
		zap.Duration("window", settings.Window()),
		zap.Float64("margin", margin),
		zap.Bool("trading", monitor.TradingEnabled()),
	)

	go m.run(runCtx, sess, logger)
	return sess.info(), nil
}

// buildSettings merges req over the defaults.
func buildSettings(d config.SessionDefaultsConfig, req StartRequest, now time.Time) (copytrade.Settings, float64, error) {
	in := copytrade.SettingsInput{
		Window:            d.Duration,
		StartedAt:         now,
		RequireFirstBet:   d.RequireFirstBet,
		MinNotional:       d.MinNotional,
		MinPrice:          d.MinPrice,
		MaxPrice:          d.MaxPrice,
		StopLossPercent:   d.StopLossPercent,
		TakeProfitPercent: d.TakeProfitPercent,
	}
	if req.DurationSeconds != 0 {
		in.Window = time.Duration(req.DurationSeconds) * time.Second
	}
	if req.MinNotional != nil {
		in.MinNotional = *req.MinNotional
	}
	if req.MinPrice != nil {
		in.MinPrice = *req.MinPrice
	}
	if req.MaxPrice != nil {
		in.MaxPrice = *req.MaxPrice
	}
	if req.RequireFirstBet != nil {
		in.RequireFirstBet = *req.RequireFirstBet
	}
	if req.StopLossPercent != nil {
		in.StopLossPercent = req.StopLossPercent
	}
	if req.TakeProfitPercent != nil {
		in.TakeProfitPercent = req.TakeProfitPercent
	}

	margin := d.Margin
	if req.Margin != nil {
		margin = *req.Margin
	}
	if margin < 0 {
		return copytrade.Settings{}, 0, &copytrade.SettingsError{Field: "margin", Message: "must be non-negative"}
	}

	settings, err := copytrade.NewSettings(in)
	if err != nil {
		return copytrade.Settings{}, 0, err
	}
	return settings, margin, nil
}

func (m *SessionManager) run(ctx context.Context, sess *session, logger *zap.Logger) {
	defer m.wg.Done()
	defer close(sess.done)
	defer func() {
		m.mu.Lock()
		if m.sessions[sess.userID] == sess {
			delete(m.sessions, sess.userID)
		}
		m.mu.Unlock()
		sess.cancel()
	}()

	m.prepare(ctx, sess, logger)

	reason := m.runMonitor(ctx, sess, logger)
	m.finish(sess, reason, logger)
}

// prepare resolves the trader name and API credentials. Both are best
// effort; the executor refreshes credentials again on a 401.
func (m *SessionManager) prepare(ctx context.Context, sess *session, logger *zap.Logger) {
	if m.api != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		entry, err := m.api.GetLeaderboardEntry(lookupCtx, sess.trader)
		cancel()
		if err != nil {
			logger.Debug("trader name lookup failed", zap.Error(err))
		} else {
			sess.mu.Lock()
			sess.traderName = entry.DisplayName()
			sess.mu.Unlock()
		}
	}

	if sess.gateway != nil && !sess.gateway.IsReady() {
		authCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := sess.gateway.EnsureAuthenticated(authCtx); err != nil {
			logger.Warn("initial authentication failed", zap.Error(err))
		}
		cancel()
	}
}

func (m *SessionManager) runMonitor(ctx context.Context, sess *session, logger *zap.Logger) (reason copytrade.ExitReason) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked", zap.Any("panic", r))
			reason = copytrade.FailedFatally
		}
	}()
	reason, _ = sess.monitor.Run(ctx, m.tradeCallback(sess))
	return reason
}

func (m *SessionManager) finish(sess *session, reason copytrade.ExitReason, logger *zap.Logger) {
	ended := m.now()
	stats := sess.monitor.Statistics()

	logger.Info("session finished",
		zap.String("reason", string(reason)),
		zap.Int("total_found", stats.TotalFound),
		zap.Int("markets_tracked", stats.MarketsTracked),
		zap.Int("executed", stats.Executed),
	)

	if m.notifier != nil {
		err := m.notifier.SendSessionSummary(notifier.SessionSummary{
			SessionID:      sess.id,
			ChatID:         sess.userID,
			TraderAddress:  sess.trader,
			Reason:         reason.Description(),
			StartedAt:      sess.startedAt,
			EndedAt:        ended,
			TotalFound:     stats.TotalFound,
			MarketsTracked: stats.MarketsTracked,
			Executed:       stats.Executed,
			Closed:         stats.Closed,
		})
		if err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
			logger.Warn("failed to send session summary", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.history != nil {
		record := &storage.SessionRecord{
			ID:             sess.id,
			UserID:         sess.userID,
			TraderAddress:  sess.trader,
			Margin:         sess.margin,
			StartedAt:      sess.startedAt,
			EndedAt:        ended,
			ExitReason:     string(reason),
			TotalFound:     stats.TotalFound,
			MarketsTracked: stats.MarketsTracked,
			Executed:       stats.Executed,
			Closed:         stats.Closed,
		}
		if err := m.history.Insert(ctx, record); err != nil {
			logger.Error("failed to record session", zap.Error(err))
		}
	}
	if m.snapshots != nil {
		if err := m.snapshots.Delete(ctx, sess.id); err != nil {
			logger.Warn("failed to delete session snapshot", zap.Error(err))
		}
	}
}

// tradeCallback turns accepted trades into copy trade alerts.
func (m *SessionManager) tradeCallback(sess *session) copytrade.Callback {
	return func(_ context.Context, n copytrade.Notification) error {
		if m.notifier == nil {
			return nil
		}

		status := notifier.StatusFailed
		switch {
		case n.Executed:
			status = notifier.StatusExecuted
		case !sess.monitor.TradingEnabled():
			status = notifier.StatusMonitoringOnly
		}

		alert := notifier.CopyTradeAlert{
			SessionID:        sess.id,
			ChatID:           sess.userID,
			TraderName:       sess.name(),
			TraderAddress:    sess.trader,
			WalletURL:        profileURL(sess.trader),
			MarketTitle:      n.Trade.Title,
			MarketURL:        marketURL(n.Trade.Slug),
			Outcome:          n.Trade.Outcome,
			Price:            n.Trade.Price,
			Notional:         n.Trade.UsdcSize,
			Margin:           sess.margin,
			FilterReason:     n.FilterReason,
			Status:           status,
			ExecutionMessage: n.ExecutionMessage,
			Timestamp:        n.Trade.Timestamp,
		}
		err := m.notifier.SendCopyTradeAlert(alert)
		if errors.Is(err, notifier.ErrNotConfigured) {
			return nil
		}
		return err
	}
}

func (m *SessionManager) exitHandler(sess *session) copytrade.ExitHandler {
	return func(_ context.Context, c copytrade.ClosedPosition) {
		if m.notifier == nil {
			return
		}
		err := m.notifier.SendPositionClosed(notifier.PositionClosedAlert{
			SessionID:   sess.id,
			ChatID:      sess.userID,
			MarketTitle: c.Position.Title,
			Outcome:     c.Position.Outcome,
			Trigger:     string(c.Trigger),
			PnlPercent:  c.PnlPercent,
			SoldSize:    c.SoldSize,
			Message:     c.Message,
			Timestamp:   m.now(),
		})
		if err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
			m.logger.Warn("failed to send position closed alert",
				zap.String("session", sess.id),
				zap.Error(err),
			)
		}
	}
}

// Stop cancels the session of userID and waits until it is recorded or
// ctx is done.
func (m *SessionManager) Stop(ctx context.Context, userID int64) error {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return m.stop(ctx, sess)
}

// StopByID is Stop keyed by session id.
func (m *SessionManager) StopByID(ctx context.Context, id string) error {
	sess, ok := m.findByID(id)
	if !ok {
		return ErrNoSession
	}
	return m.stop(ctx, sess)
}

func (m *SessionManager) stop(ctx context.Context, sess *session) error {
	sess.cancel()
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) findByID(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.id == id {
			return s, true
		}
	}
	return nil, false
}

// Get returns the running session of userID.
func (m *SessionManager) Get(userID int64) (SessionInfo, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, false
	}
	return sess.info(), true
}

// GetByID returns the running session with the given id.
func (m *SessionManager) GetByID(id string) (SessionInfo, bool) {
	sess, ok := m.findByID(id)
	if !ok {
		return SessionInfo{}, false
	}
	return sess.info(), true
}

// List returns all running sessions, oldest first.
func (m *SessionManager) List() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of running sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshots returns the live view of every running session.
func (m *SessionManager) Snapshots() []storage.SessionSnapshot {
	now := m.now().UTC()
	infos := m.List()
	out := make([]storage.SessionSnapshot, 0, len(infos))
	for _, info := range infos {
		out = append(out, storage.SessionSnapshot{
			SessionID:        info.ID,
			UserID:           info.UserID,
			TraderAddress:    info.TraderAddress,
			TradingEnabled:   info.TradingEnabled,
			StartedAt:        info.StartedAt,
			Deadline:         info.Deadline,
			UpdatedAt:        now,
			TotalFound:       info.Stats.TotalFound,
			MarketsTracked:   info.Stats.MarketsTracked,
			TrackedPositions: info.Stats.TrackedPositions,
			ProcessedCount:   info.Stats.ProcessedCount,
			Executed:         info.Stats.Executed,
			Closed:           info.Stats.Closed,
		})
	}
	return out
}

// Shutdown cancels every session and waits for them to be recorded.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
