package copytrade

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	DefaultDedupWindow       = 30 * time.Minute
	DefaultDedupRetention    = 60 * time.Minute
	DefaultThrottleWindow    = 30 * time.Minute
	DefaultThrottleMaxOrders = 3
)

// DedupKey derives the identity used to recognise a repeated trade. Trades
// on the same market at a different price count as distinct.
func DedupKey(t Trade) string {
	price := math.Round(t.Price*1000) / 1000
	return fmt.Sprintf("%s|%s|%s|%.3f", t.ConditionID, t.Title, t.Outcome, price)
}

// DedupLedger remembers recently seen trade identities.
type DedupLedger struct {
	mu        sync.Mutex
	window    time.Duration
	retention time.Duration
	seen      map[string]time.Time
}

// NewDedupLedger returns a ledger. Non-positive arguments select defaults.
func NewDedupLedger(window, retention time.Duration) *DedupLedger {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if retention < window {
		retention = max(DefaultDedupRetention, window)
	}
	return &DedupLedger{
		window:    window,
		retention: retention,
		seen:      make(map[string]time.Time),
	}
}

// IsAlreadyProcessed reports whether t was seen within the dedup window.
// A trade that is not a duplicate is recorded at now.
func (l *DedupLedger) IsAlreadyProcessed(t Trade, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)

	key := DedupKey(t)
	if ts, ok := l.seen[key]; ok && now.Sub(ts) < l.window {
		return true
	}
	l.seen[key] = now
	return false
}

func (l *DedupLedger) prune(now time.Time) {
	for key, ts := range l.seen {
		if now.Sub(ts) > l.retention {
			delete(l.seen, key)
		}
	}
}

// Len returns the number of remembered identities.
func (l *DedupLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Reset forgets every identity.
func (l *DedupLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.seen)
}

// ThrottleLedger caps replications per market key in a rolling window.
type ThrottleLedger struct {
	mu        sync.Mutex
	maxOrders int
	window    time.Duration
	slots     map[string][]time.Time
}

// NewThrottleLedger returns a ledger. Non-positive arguments select defaults.
func NewThrottleLedger(maxOrders int, window time.Duration) *ThrottleLedger {
	if maxOrders <= 0 {
		maxOrders = DefaultThrottleMaxOrders
	}
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &ThrottleLedger{
		maxOrders: maxOrders,
		window:    window,
		slots:     make(map[string][]time.Time),
	}
}

// ReserveSlot evicts stale reservations for key and, if capacity remains,
// records one at now. It returns false when the key is at capacity.
func (l *ThrottleLedger) ReserveSlot(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.slots[key][:0]
	for _, ts := range l.slots[key] {
		if now.Sub(ts) <= l.window {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.maxOrders {
		l.slots[key] = kept
		return false
	}
	l.slots[key] = append(kept, now)
	return true
}

// Len returns the number of market keys seen.
func (l *ThrottleLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Reset clears all reservations.
func (l *ThrottleLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.slots)
}
