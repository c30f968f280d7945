package copytrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTickInterval      = 5 * time.Second
	DefaultMinSleep          = 1 * time.Second
	DefaultErrorBackoff      = 10 * time.Second
	DefaultExitCheckInterval = 30 * time.Second
)

// MonitorDeps are the collaborators of a Monitor. Executor may be nil, in
// which case the session only reports trades.
type MonitorDeps struct {
	Source   MarketDataSource
	Executor *Executor
	Watcher  PriceWatcher
	OnExit   ExitHandler
}

// Option tunes a Monitor.
type Option func(*Monitor)

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTiming overrides the loop cadence. Zero values keep the defaults.
func WithTiming(tick, minSleep, errorBackoff, exitCheck time.Duration) Option {
	return func(m *Monitor) {
		if tick > 0 {
			m.tick = tick
		}
		if minSleep > 0 {
			m.minSleep = minSleep
		}
		if errorBackoff > 0 {
			m.errorBackoff = errorBackoff
		}
		if exitCheck > 0 {
			m.exitEvery = exitCheck
		}
	}
}

// WithLedgers replaces the default dedup and throttle ledgers.
func WithLedgers(dedup *DedupLedger, throttle *ThrottleLedger) Option {
	return func(m *Monitor) {
		if dedup != nil {
			m.dedup = dedup
		}
		if throttle != nil {
			m.throttle = throttle
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor polls the tracked wallet, replicates trades that pass the
// filters and closes replicated positions on stop-loss or take-profit.
type Monitor struct {
	logger     *zap.Logger
	settings   Settings
	source     MarketDataSource
	executor   *Executor
	filter     *FilterEngine
	reconciler *Reconciler
	watcher    PriceWatcher
	onExit     ExitHandler
	dedup      *DedupLedger
	throttle   *ThrottleLedger
	now        func() time.Time

	tick         time.Duration
	minSleep     time.Duration
	errorBackoff time.Duration
	exitEvery    time.Duration

	nudge chan struct{}

	mu        sync.Mutex
	found     []Trade
	tracked   []TrackedPosition
	lastTrade *Trade
	executed  int
	closed    int
}

// NewMonitor wires a monitor for one session.
func NewMonitor(deps MonitorDeps, settings Settings, opts ...Option) (*Monitor, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("market data source is required")
	}

	m := &Monitor{
		logger:       zap.NewNop(),
		settings:     settings,
		source:       deps.Source,
		executor:     deps.Executor,
		watcher:      deps.Watcher,
		onExit:       deps.OnExit,
		now:          time.Now,
		tick:         DefaultTickInterval,
		minSleep:     DefaultMinSleep,
		errorBackoff: DefaultErrorBackoff,
		exitEvery:    DefaultExitCheckInterval,
		nudge:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dedup == nil {
		m.dedup = NewDedupLedger(0, 0)
	}
	if m.throttle == nil {
		m.throttle = NewThrottleLedger(0, 0)
	}
	if m.executor == nil {
		m.executor = NewExecutor(m.logger, nil, 0, DefaultRetryPolicy())
	}

	m.filter = NewFilterEngine(m.logger.Named("filter"), settings, m.throttle, m.source)
	m.filter.now = m.now
	m.reconciler = NewReconciler(m.logger.Named("exits"), settings, m.source, m.executor)
	return m, nil
}

// Settings returns the session settings.
func (m *Monitor) Settings() Settings { return m.settings }

// TradingEnabled reports whether accepted trades are replicated.
func (m *Monitor) TradingEnabled() bool { return m.executor.Enabled() }

// Run blocks until the session window expires or ctx is cancelled. It
// returns the terminal state and the last accepted trade, if any.
// Failures inside one iteration are logged and retried after a backoff;
// they never end the run.
func (m *Monitor) Run(ctx context.Context, cb Callback) (ExitReason, *Trade) {
	m.logger.Info("monitoring started",
		zap.Duration("window", m.settings.Window()),
		zap.Time("deadline", m.settings.Deadline()),
		zap.Float64("min_notional", m.settings.MinNotional()),
		zap.Float64("min_price", m.settings.MinPrice()),
		zap.Float64("max_price", m.settings.MaxPrice()),
		zap.Bool("trading", m.executor.Enabled()),
	)
	defer m.unwatchAll()

	var lastPoll, lastExitCheck time.Time
	nudged := false

	for {
		if ctx.Err() != nil {
			return m.finish(CancelledByUser)
		}
		now := m.now()
		if m.settings.Expired(now) {
			return m.finish(ExpiredByTimeout)
		}

		exitDue := m.reconciler.Active() &&
			(nudged || lastExitCheck.IsZero() || now.Sub(lastExitCheck) >= m.exitEvery)
		pollDue := lastPoll.IsZero() || now.Sub(lastPoll) >= m.tick
		nudged = false

		var err error
		if exitDue {
			lastExitCheck = now
			err = m.safely("exit check", func() error { return m.checkExits(ctx) })
		}
		if err == nil && pollDue && ctx.Err() == nil {
			lastPoll = now
			err = m.safely("poll", func() error { return m.poll(ctx, cb) })
		}

		wait := m.minSleep
		if err != nil {
			if ctx.Err() != nil {
				return m.finish(CancelledByUser)
			}
			m.logger.Warn("monitoring iteration failed", zap.Error(err))
			wait = m.errorBackoff
		}

		switch m.sleep(ctx, wait) {
		case wakeCancelled:
			return m.finish(CancelledByUser)
		case wakeNudged:
			nudged = true
		}
	}
}

func (m *Monitor) finish(reason ExitReason) (ExitReason, *Trade) {
	stats := m.Statistics()
	m.logger.Info("monitoring finished",
		zap.String("reason", string(reason)),
		zap.Int("total_found", stats.TotalFound),
		zap.Int("markets_tracked", stats.MarketsTracked),
		zap.Int("executed", stats.Executed),
	)
	return reason, m.LastTrade()
}

// safely runs fn and converts a panic into an error.
func (m *Monitor) safely(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	return fn()
}

func (m *Monitor) poll(ctx context.Context, cb Callback) error {
	trades, err := m.source.RecentBets(ctx)
	if err != nil {
		return fmt.Errorf("fetch recent bets: %w", err)
	}
	if len(trades) == 0 {
		m.logger.Debug("no recent bets")
		return nil
	}

	for _, trade := range trades {
		if ctx.Err() != nil {
			return nil
		}
		m.processTrade(ctx, trade, cb)
	}
	return nil
}

func (m *Monitor) processTrade(ctx context.Context, trade Trade, cb Callback) {
	if m.dedup.IsAlreadyProcessed(trade, m.now()) {
		return
	}

	reason, accepted := m.filter.Evaluate(ctx, trade)
	if accepted == nil {
		m.logger.Debug("trade rejected",
			zap.String("market", trade.MarketKey()),
			zap.String("reason", reason),
		)
		return
	}

	m.mu.Lock()
	m.found = append(m.found, *accepted)
	last := *accepted
	m.lastTrade = &last
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	executed, message := m.executor.ExecuteTrade(ctx, *accepted)
	if executed {
		m.track(TrackedPosition{
			Title:    accepted.Title,
			Outcome:  accepted.Outcome,
			TokenID:  accepted.TokenID,
			Size:     m.executor.Margin(),
			OpenedAt: m.now(),
		})
	}

	m.notify(ctx, cb, Notification{
		Trade:            *accepted,
		FilterReason:     reason,
		Executed:         executed,
		ExecutionMessage: message,
	})
}

func (m *Monitor) track(pos TrackedPosition) {
	m.mu.Lock()
	m.tracked = append(m.tracked, pos)
	m.executed++
	m.mu.Unlock()

	if m.watcher != nil && pos.TokenID != "" {
		m.watcher.Watch(pos.TokenID)
	}
}

func (m *Monitor) notify(ctx context.Context, cb Callback, n Notification) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification callback panicked", zap.Any("panic", r))
		}
	}()
	if err := cb(ctx, n); err != nil {
		m.logger.Warn("notification callback failed", zap.Error(err))
	}
}

func (m *Monitor) checkExits(ctx context.Context) error {
	tracked := m.TrackedPositions()
	remaining, closed, err := m.reconciler.Reconcile(ctx, tracked)
	if err != nil {
		return err
	}

	// One Watch was issued per tracked entry, so one Unwatch per removed entry.
	kept := make(map[string]int, len(remaining))
	for _, p := range remaining {
		kept[p.TokenID]++
	}

	m.mu.Lock()
	m.tracked = remaining
	m.closed += len(closed)
	m.mu.Unlock()

	if m.watcher != nil {
		for _, p := range tracked {
			if p.TokenID == "" {
				continue
			}
			if kept[p.TokenID] > 0 {
				kept[p.TokenID]--
				continue
			}
			m.watcher.Unwatch(p.TokenID)
		}
	}
	if m.onExit != nil {
		for _, c := range closed {
			m.onExit(ctx, c)
		}
	}
	return nil
}

func (m *Monitor) unwatchAll() {
	if m.watcher == nil {
		return
	}
	for _, p := range m.TrackedPositions() {
		if p.TokenID != "" {
			m.watcher.Unwatch(p.TokenID)
		}
	}
}

type wake int

const (
	wakeTimer wake = iota
	wakeNudged
	wakeCancelled
)

func (m *Monitor) sleep(ctx context.Context, d time.Duration) wake {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return wakeCancelled
	case <-m.nudge:
		return wakeNudged
	case <-timer.C:
		return wakeTimer
	}
}

// NudgeExitCheck makes the next loop wake run the SL/TP check without
// waiting for its interval. Safe to call from any goroutine.
func (m *Monitor) NudgeExitCheck() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Statistics returns a consistent snapshot of the session counters.
func (m *Monitor) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		TotalFound:       len(m.found),
		MarketsTracked:   m.throttle.Len(),
		TrackedPositions: len(m.tracked),
		ProcessedCount:   m.dedup.Len(),
		Executed:         m.executed,
		Closed:           m.closed,
	}
}

// FoundTrades returns the trades accepted so far, in order.
func (m *Monitor) FoundTrades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trade, len(m.found))
	copy(out, m.found)
	return out
}

// TrackedPositions returns the positions currently tracked for SL/TP.
func (m *Monitor) TrackedPositions() []TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackedPosition, len(m.tracked))
	copy(out, m.tracked)
	return out
}

// IsTracking reports whether tokenID belongs to a tracked position.
func (m *Monitor) IsTracking(tokenID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.tracked {
		if p.TokenID == tokenID {
			return true
		}
	}
	return false
}

// LastTrade returns the most recently accepted trade.
func (m *Monitor) LastTrade() *Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastTrade == nil {
		return nil
	}
	t := *m.lastTrade
	return &t
}

// Reset clears found trades, tracked positions and both ledgers.
func (m *Monitor) Reset() {
	m.unwatchAll()

	m.mu.Lock()
	m.found = nil
	m.tracked = nil
	m.lastTrade = nil
	m.executed = 0
	m.closed = 0
	m.mu.Unlock()

	m.throttle.Reset()
	m.dedup.Reset()
}
