package copytrade

import (
	"testing"
	"time"
)

func TestDedupLedger_SecondCallWithinWindowIsDuplicate(t *testing.T) {
	l := NewDedupLedger(30*time.Minute, 60*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	trade := sampleTrade("Will X happen", "Yes", 10, 0.5)

	if l.IsAlreadyProcessed(trade, now) {
		t.Fatal("first sighting reported as duplicate")
	}
	if !l.IsAlreadyProcessed(trade, now.Add(29*time.Minute)) {
		t.Error("expected duplicate within window")
	}
	if l.IsAlreadyProcessed(trade, now.Add(31*time.Minute)) {
		t.Error("expected fresh after window")
	}
}

func TestDedupLedger_PriceIsPartOfIdentity(t *testing.T) {
	l := NewDedupLedger(0, 0)
	now := time.Now()

	a := sampleTrade("M", "Yes", 10, 0.5)
	b := a
	b.Price = 0.51
	c := a
	c.Price = 0.50004 // rounds to the same price as a

	if l.IsAlreadyProcessed(a, now) || l.IsAlreadyProcessed(b, now) {
		t.Fatal("distinct prices must be distinct identities")
	}
	if !l.IsAlreadyProcessed(c, now) {
		t.Error("rounded price should match")
	}
}

func TestDedupLedger_PurgesOldEntries(t *testing.T) {
	l := NewDedupLedger(30*time.Minute, 60*time.Minute)
	now := time.Now()

	l.IsAlreadyProcessed(sampleTrade("A", "Yes", 1, 0.5), now)
	l.IsAlreadyProcessed(sampleTrade("B", "Yes", 1, 0.5), now.Add(30*time.Minute))
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}

	l.IsAlreadyProcessed(sampleTrade("C", "Yes", 1, 0.5), now.Add(61*time.Minute))
	if l.Len() != 2 {
		t.Errorf("expected A purged, got %d entries", l.Len())
	}

	l.Reset()
	if l.Len() != 0 {
		t.Errorf("expected empty after reset, got %d", l.Len())
	}
}

func TestThrottleLedger_Ceiling(t *testing.T) {
	l := NewThrottleLedger(3, 30*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	key := sampleTrade("Will X happen", "Yes", 1, 0.5).MarketKey()

	for i := 0; i < 3; i++ {
		if !l.ReserveSlot(key, now.Add(time.Duration(i)*2*time.Minute)) {
			t.Fatalf("reservation %d rejected", i+1)
		}
	}
	if l.ReserveSlot(key, now.Add(14*time.Minute)) {
		t.Error("fourth reservation inside window accepted")
	}
	if !l.ReserveSlot("other_Yes", now.Add(14*time.Minute)) {
		t.Error("other market should be independent")
	}

	// The first slot ages out after 30 minutes.
	if !l.ReserveSlot(key, now.Add(31*time.Minute)) {
		t.Error("expected slot after eviction")
	}
	if l.Len() != 2 {
		t.Errorf("expected 2 market keys, got %d", l.Len())
	}
}

func TestThrottleLedger_RollingWindowNeverExceedsMax(t *testing.T) {
	const maxOrders = 3
	window := 30 * time.Minute
	l := NewThrottleLedger(maxOrders, window)
	start := time.Unix(1_700_000_000, 0)

	var granted []time.Time
	ts := start
	for i := 0; i < 200; i++ {
		ts = ts.Add(time.Duration(i*37%11) * time.Minute)
		if l.ReserveSlot("k", ts) {
			granted = append(granted, ts)
		}
	}
	if len(granted) == 0 {
		t.Fatal("no reservations granted")
	}

	for i, a := range granted {
		count := 0
		for _, b := range granted[i:] {
			if b.Sub(a) < window {
				count++
			}
		}
		if count > maxOrders {
			t.Fatalf("%d reservations within window starting at %v", count, a)
		}
	}
}
