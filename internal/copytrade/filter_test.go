package copytrade

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFilterEngine_Rules(t *testing.T) {
	settings := mustSettings(SettingsInput{MinNotional: 5, MinPrice: 0.1, MaxPrice: 0.9})

	tests := []struct {
		name   string
		trade  Trade
		reason string
		accept bool
	}{
		{"passes", sampleTrade("M", "Yes", 10, 0.5), ReasonPassed, true},
		{"too small", sampleTrade("M1", "Yes", 4.99, 0.5), ReasonTooSmall, false},
		{"exact min notional", sampleTrade("M2", "Yes", 5, 0.5), ReasonPassed, true},
		{"at min price", sampleTrade("M3", "Yes", 10, 0.1), ReasonPriceOutRange, false},
		{"at max price", sampleTrade("M4", "Yes", 10, 0.9), ReasonPriceOutRange, false},
		{"above band", sampleTrade("M5", "Yes", 10, 0.95), ReasonPriceOutRange, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilterEngine(nil, settings, NewThrottleLedger(3, 30*time.Minute), nil)
			reason, accepted := f.Evaluate(context.Background(), tt.trade)
			if reason != tt.reason {
				t.Errorf("expected %q, got %q", tt.reason, reason)
			}
			if (accepted != nil) != tt.accept {
				t.Fatalf("expected accept=%v, got %v", tt.accept, accepted)
			}
			if accepted != nil && *accepted != tt.trade {
				t.Error("accepted trade must be unchanged")
			}
		})
	}
}

func TestFilterEngine_RateLimitsFourthTrade(t *testing.T) {
	settings := mustSettings(SettingsInput{MinNotional: 1, MinPrice: 0.01, MaxPrice: 0.99})
	f := NewFilterEngine(nil, settings, NewThrottleLedger(3, 30*time.Minute), nil)
	now := time.Unix(1_700_000_000, 0)
	f.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = now.Add(time.Minute)
		tr := sampleTrade("Will X happen", "Yes", 10, 0.5+float64(i)/100)
		if reason, _ := f.Evaluate(context.Background(), tr); reason != ReasonPassed {
			t.Fatalf("trade %d: %s", i+1, reason)
		}
	}

	now = now.Add(10 * time.Minute)
	reason, accepted := f.Evaluate(context.Background(), sampleTrade("Will X happen", "Yes", 10, 0.6))
	if reason != ReasonRateLimited || accepted != nil {
		t.Errorf("expected rate limited, got %q", reason)
	}
}

func TestFilterEngine_SizeRejectionDoesNotSpendSlot(t *testing.T) {
	settings := mustSettings(SettingsInput{MinNotional: 5, MinPrice: 0.1, MaxPrice: 0.9})
	throttle := NewThrottleLedger(1, time.Hour)
	f := NewFilterEngine(nil, settings, throttle, nil)

	f.Evaluate(context.Background(), sampleTrade("M", "Yes", 1, 0.5))
	if reason, _ := f.Evaluate(context.Background(), sampleTrade("M", "Yes", 10, 0.5)); reason != ReasonPassed {
		t.Errorf("expected slot still free, got %q", reason)
	}
}

func TestFilterEngine_FirstBet(t *testing.T) {
	settings := mustSettings(SettingsInput{MinNotional: 1, MinPrice: 0.01, MaxPrice: 0.99, RequireFirstBet: true})
	trade := sampleTrade("M", "Yes", 10, 0.5)

	t.Run("single bet passes", func(t *testing.T) {
		src := &fakeSource{batches: [][]Trade{{trade, sampleTrade("M", "No", 10, 0.5)}}}
		f := NewFilterEngine(nil, settings, nil, src)
		if reason, _ := f.Evaluate(context.Background(), trade); reason != ReasonPassed {
			t.Errorf("got %q", reason)
		}
	})

	t.Run("repeat bet rejected and slot spent", func(t *testing.T) {
		src := &fakeSource{batches: [][]Trade{{trade, trade}}}
		throttle := NewThrottleLedger(1, time.Hour)
		f := NewFilterEngine(nil, settings, throttle, src)

		if reason, _ := f.Evaluate(context.Background(), trade); reason != ReasonNotFirstBet {
			t.Fatalf("got %q", reason)
		}
		if throttle.ReserveSlot(trade.MarketKey(), time.Now()) {
			t.Error("slot should have been spent by the rejected trade")
		}
	})

	t.Run("fetch failure rejects", func(t *testing.T) {
		src := &fakeSource{betsErr: errors.New("timeout")}
		f := NewFilterEngine(nil, settings, nil, src)
		if reason, accepted := f.Evaluate(context.Background(), trade); reason != ReasonFetchFailed || accepted != nil {
			t.Errorf("got %q", reason)
		}
	})
}
