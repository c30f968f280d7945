package copytrade

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

type fakeSource struct {
	mu        sync.Mutex
	batches   [][]Trade // consumed one per RecentBets call, last one repeats
	betsErr   error
	positions []LivePosition
	posErr    error
	betCalls  int
	posCalls  int
	onBets    func(call int)
}

func (s *fakeSource) RecentBets(_ context.Context) ([]Trade, error) {
	s.mu.Lock()
	s.betCalls++
	call := s.betCalls
	hook := s.onBets
	var out []Trade
	if s.betsErr == nil && len(s.batches) > 0 {
		out = s.batches[0]
		if len(s.batches) > 1 {
			s.batches = s.batches[1:]
		}
	}
	err := s.betsErr
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return out, err
}

func (s *fakeSource) AccountPositions(_ context.Context) ([]LivePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posCalls++
	if s.posErr != nil {
		return nil, s.posErr
	}
	out := make([]LivePosition, len(s.positions))
	copy(out, s.positions)
	return out, nil
}

func (s *fakeSource) setPositions(p []LivePosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = p
}

func (s *fakeSource) calls() (bets, positions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.betCalls, s.posCalls
}

type orderCall struct {
	tokenID string
	amount  float64
}

type fakeGateway struct {
	mu        sync.Mutex
	ready     bool
	buyErrs   []error // popped per Buy call; nil entries succeed
	sellErrs  []error
	authErr   error
	buys      []orderCall
	sells     []orderCall
	authCalls int
}

func newFakeGateway() *fakeGateway { return &fakeGateway{ready: true} }

func (g *fakeGateway) Buy(_ context.Context, tokenID string, amount float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys = append(g.buys, orderCall{tokenID, amount})
	if len(g.buyErrs) > 0 {
		err := g.buyErrs[0]
		g.buyErrs = g.buyErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "order placed", nil
}

func (g *fakeGateway) Sell(_ context.Context, tokenID string, size float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sells = append(g.sells, orderCall{tokenID, size})
	if len(g.sellErrs) > 0 {
		err := g.sellErrs[0]
		g.sellErrs = g.sellErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "sold", nil
}

func (g *fakeGateway) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

func (g *fakeGateway) EnsureAuthenticated(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authCalls++
	if g.authErr != nil {
		return g.authErr
	}
	g.ready = true
	return nil
}

func (g *fakeGateway) buyAt(i int) orderCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buys[i]
}

func (g *fakeGateway) counts() (buys, sells, auth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buys), len(g.sells), g.authCalls
}

type statusErr struct {
	code int
}

func (e *statusErr) Error() string      { return "status " + strconv.Itoa(e.code) }
func (e *statusErr) Unauthorized() bool { return e.code == 401 }
func (e *statusErr) Temporary() bool    { return e.code >= 500 || e.code == 429 }

var errPermanent = errors.New("insufficient balance")

type fakeWatcher struct {
	mu      sync.Mutex
	watched map[string]int
}

func newFakeWatcher() *fakeWatcher { return &fakeWatcher{watched: map[string]int{}} }

func (w *fakeWatcher) Watch(tokenID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[tokenID]++
}

func (w *fakeWatcher) Unwatch(tokenID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[tokenID]--
	if w.watched[tokenID] <= 0 {
		delete(w.watched, tokenID)
	}
}

func (w *fakeWatcher) isWatching(tokenID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[tokenID] > 0
}

func ptr(v float64) *float64 { return &v }

func mustSettings(in SettingsInput) Settings {
	if in.Window == 0 {
		in.Window = time.Hour
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now()
	}
	if in.MaxPrice == 0 {
		in.MaxPrice = 0.99
	}
	s, err := NewSettings(in)
	if err != nil {
		panic(err)
	}
	return s
}

func sampleTrade(title, outcome string, size, price float64) Trade {
	return Trade{
		ConditionID: "cond-" + title,
		Title:       title,
		Outcome:     outcome,
		Price:       price,
		UsdcSize:    size,
		TokenID:     "tok-" + title + "-" + outcome,
		Slug:        "slug",
	}
}
