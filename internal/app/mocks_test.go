package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"polycopy/clients/notifier"
	"polycopy/clients/polymarketapi"
	"polycopy/clients/polymarketevents"
)

// MockGistStorage is a mock implementation of gist.Storage for testing.
type MockGistStorage struct {
	mu      sync.RWMutex
	files   map[string]string
	gistID  string
	enabled bool
	loadErr error
	saveErr error
	saves   int
}

// NewMockGistStorage creates a new mock gist storage.
func NewMockGistStorage() *MockGistStorage {
	return &MockGistStorage{
		files:   make(map[string]string),
		gistID:  "mock-gist-id",
		enabled: true,
	}
}

func (m *MockGistStorage) IsEnabled() bool { return m.enabled }

func (m *MockGistStorage) SetEnabled(enabled bool) { m.enabled = enabled }

func (m *MockGistStorage) Load(_ context.Context, filename string) (string, error) {
	if m.loadErr != nil {
		return "", m.loadErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[filename], nil
}

func (m *MockGistStorage) Save(_ context.Context, filename, content string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filename] = content
	m.saves++
	return nil
}

func (m *MockGistStorage) LoadJSON(ctx context.Context, filename string, dest any) error {
	content, err := m.Load(ctx, filename)
	if err != nil || content == "" {
		return err
	}
	return json.Unmarshal([]byte(content), dest)
}

func (m *MockGistStorage) SaveJSON(ctx context.Context, filename string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.Save(ctx, filename, string(b))
}

func (m *MockGistStorage) GetGistID() string { return m.gistID }

func (m *MockGistStorage) SetSaveError(err error) { m.saveErr = err }

func (m *MockGistStorage) GetContent(filename string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[filename]
}

// fakeData is an in-memory PolymarketData.
type fakeData struct {
	mu          sync.Mutex
	buys        map[string][]polymarketapi.Activity
	positions   map[string][]polymarketapi.Position
	markets     map[string]*polymarketapi.GammaMarket
	names       map[string]string
	buysErr     error
	marketCalls int
}

func newFakeData() *fakeData {
	return &fakeData{
		buys:      make(map[string][]polymarketapi.Activity),
		positions: make(map[string][]polymarketapi.Position),
		markets:   make(map[string]*polymarketapi.GammaMarket),
		names:     make(map[string]string),
	}
}

func (f *fakeData) setBuys(wallet string, a ...polymarketapi.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys[wallet] = a
}

func (f *fakeData) GetRecentBuys(_ context.Context, wallet string, _ time.Duration, limit int) ([]polymarketapi.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buysErr != nil {
		return nil, f.buysErr
	}
	out := append([]polymarketapi.Activity(nil), f.buys[wallet]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeData) GetPositions(_ context.Context, wallet string, _ polymarketapi.PositionsQuery) ([]polymarketapi.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]polymarketapi.Position(nil), f.positions[wallet]...), nil
}

func (f *fakeData) GetMarketByConditionID(_ context.Context, conditionID string) (*polymarketapi.GammaMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	m, ok := f.markets[conditionID]
	if !ok {
		return nil, errors.New("market not found")
	}
	return m, nil
}

func (f *fakeData) GetLeaderboardEntry(_ context.Context, wallet string) (*polymarketapi.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[wallet]
	if !ok {
		return nil, errors.New("not on leaderboard")
	}
	return &polymarketapi.LeaderboardEntry{ProxyWallet: wallet, UserName: name}, nil
}

// fakeGateway records orders.
type fakeGateway struct {
	mu      sync.Mutex
	buys    []string
	sells   []string
	authErr error
	authN   int
}

func (g *fakeGateway) Buy(_ context.Context, tokenID string, _ float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys = append(g.buys, tokenID)
	return "order-" + tokenID, nil
}

func (g *fakeGateway) Sell(_ context.Context, tokenID string, _ float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sells = append(g.sells, tokenID)
	return "sell-" + tokenID, nil
}

func (g *fakeGateway) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authN > 0 && g.authErr == nil
}

func (g *fakeGateway) EnsureAuthenticated(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authN++
	return g.authErr
}

func (g *fakeGateway) boughtTokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.buys...)
}

// recordingNotifier captures alerts on buffered channels.
type recordingNotifier struct {
	alerts    chan notifier.CopyTradeAlert
	closed    chan notifier.PositionClosedAlert
	summaries chan notifier.SessionSummary
	err       error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		alerts:    make(chan notifier.CopyTradeAlert, 16),
		closed:    make(chan notifier.PositionClosedAlert, 16),
		summaries: make(chan notifier.SessionSummary, 16),
	}
}

func (n *recordingNotifier) SendCopyTradeAlert(a notifier.CopyTradeAlert) error {
	n.alerts <- a
	return n.err
}

func (n *recordingNotifier) SendPositionClosed(a notifier.PositionClosedAlert) error {
	n.closed <- a
	return n.err
}

func (n *recordingNotifier) SendSessionSummary(s notifier.SessionSummary) error {
	n.summaries <- s
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

// fakeFeed is an in-memory marketFeed.
type fakeFeed struct {
	mu           sync.Mutex
	connected    bool
	connects     [][]string
	subscribed   [][]string
	unsubscribed [][]string
	connectErr   error
	stats        polymarketevents.WSStats

	msgs chan json.RawMessage
	errs chan error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		msgs: make(chan json.RawMessage, 16),
		errs: make(chan error, 4),
	}
}

func (f *fakeFeed) ConnectMarket(_ context.Context, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.connects = append(f.connects, append([]string(nil), assetIDs...))
	return nil
}

func (f *fakeFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) SubscribeAssets(assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, assetIDs)
	return nil
}

func (f *fakeFeed) UnsubscribeAssets(assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, assetIDs)
	return nil
}

func (f *fakeFeed) Messages() <-chan json.RawMessage { return f.msgs }
func (f *fakeFeed) Errors() <-chan error             { return f.errs }

func (f *fakeFeed) Stats() polymarketevents.WSStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeFeed) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeFeed) counts() (connects, subs, unsubs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects), len(f.subscribed), len(f.unsubscribed)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
