package copytrade

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newReconciler(src *fakeSource, gw *fakeGateway, sl, tp *float64) *Reconciler {
	s := mustSettings(SettingsInput{MinPrice: 0.01, MaxPrice: 0.99, StopLossPercent: sl, TakeProfitPercent: tp})
	return NewReconciler(nil, s, src, NewExecutor(nil, gw, 10, fastRetry()))
}

func TestReconciler_StopLossClosesAndRemoves(t *testing.T) {
	src := &fakeSource{positions: []LivePosition{
		{Title: "M", Outcome: "Yes", TokenID: "tok-M", Size: 20, PercentRealizedPnl: ptr(-31)},
	}}
	gw := newFakeGateway()
	r := newReconciler(src, gw, ptr(-30), nil)

	tracked := []TrackedPosition{{Title: "M", Outcome: "Yes", TokenID: "tok-M", Size: 10}}
	remaining, closed, err := r.Reconcile(context.Background(), tracked)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 || len(closed) != 1 {
		t.Fatalf("expected closed position, got remaining=%d closed=%d", len(remaining), len(closed))
	}
	if closed[0].Trigger != TriggerStopLoss || closed[0].SoldSize != 20 {
		t.Errorf("unexpected close: %+v", closed[0])
	}
	if gw.sells[0] != (orderCall{"tok-M", 20}) {
		t.Errorf("expected full live size sold, got %+v", gw.sells[0])
	}

	// A second pass over the remaining set must not sell again.
	if _, _, err := r.Reconcile(context.Background(), remaining); err != nil {
		t.Fatal(err)
	}
	if _, sells, _ := gw.counts(); sells != 1 {
		t.Errorf("expected exactly one sell, got %d", sells)
	}
}

func TestReconciler_TakeProfit(t *testing.T) {
	src := &fakeSource{positions: []LivePosition{{Title: "M", TokenID: "tok-M", Size: 5, PercentRealizedPnl: ptr(50)}}}
	gw := newFakeGateway()
	r := newReconciler(src, gw, ptr(-30), ptr(50))

	_, closed, _ := r.Reconcile(context.Background(), []TrackedPosition{{Title: "M", TokenID: "tok-M"}})
	if len(closed) != 1 || closed[0].Trigger != TriggerTakeProfit {
		t.Fatalf("expected take profit, got %+v", closed)
	}
}

func TestReconciler_StopLossCheckedFirst(t *testing.T) {
	// Thresholds that overlap: both rules match, stop-loss must win.
	src := &fakeSource{positions: []LivePosition{{Title: "M", TokenID: "tok-M", Size: 5, PercentRealizedPnl: ptr(-50)}}}
	s, err := NewSettings(SettingsInput{
		Window: time.Hour, StartedAt: time.Now(), MinPrice: 0.01, MaxPrice: 0.99,
		StopLossPercent: ptr(-40), TakeProfitPercent: ptr(0.0001),
	})
	if err != nil {
		t.Fatal(err)
	}
	gw := newFakeGateway()
	r := NewReconciler(nil, s, src, NewExecutor(nil, gw, 10, fastRetry()))

	_, closed, _ := r.Reconcile(context.Background(), []TrackedPosition{{Title: "M", TokenID: "tok-M"}})
	if len(closed) != 1 || closed[0].Trigger != TriggerStopLoss {
		t.Fatalf("expected stop loss, got %+v", closed)
	}
	if _, sells, _ := gw.counts(); sells != 1 {
		t.Errorf("expected one sell, got %d", sells)
	}
}

func TestReconciler_DropsVanishedPositions(t *testing.T) {
	src := &fakeSource{positions: []LivePosition{
		{Title: "Zero", TokenID: "tok-Zero", Size: 0, PercentRealizedPnl: ptr(-90)},
	}}
	gw := newFakeGateway()
	r := newReconciler(src, gw, ptr(-30), nil)

	remaining, closed, err := r.Reconcile(context.Background(), []TrackedPosition{
		{Title: "Zero", TokenID: "tok-Zero"},
		{Title: "Gone", TokenID: "tok-Gone"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 || len(closed) != 0 {
		t.Errorf("expected silent drop, got remaining=%d closed=%d", len(remaining), len(closed))
	}
	if _, sells, _ := gw.counts(); sells != 0 {
		t.Errorf("expected no sells, got %d", sells)
	}
}

func TestReconciler_KeepsWhenPnlMissingOrSellFails(t *testing.T) {
	src := &fakeSource{positions: []LivePosition{
		{Title: "NoPnl", TokenID: "tok-NoPnl", Size: 5},
		{Title: "Fails", TokenID: "tok-Fails", Size: 5, PercentRealizedPnl: ptr(-60)},
		{Title: "Fine", TokenID: "tok-Fine", Size: 5, PercentRealizedPnl: ptr(-10)},
	}}
	gw := newFakeGateway()
	gw.sellErrs = []error{errPermanent}
	r := newReconciler(src, gw, ptr(-30), nil)

	remaining, closed, _ := r.Reconcile(context.Background(), []TrackedPosition{
		{Title: "NoPnl", TokenID: "tok-NoPnl"},
		{Title: "Fails", TokenID: "tok-Fails"},
		{Title: "Fine", TokenID: "tok-Fine"},
	})
	if len(remaining) != 3 || len(closed) != 0 {
		t.Errorf("expected all kept, got remaining=%d closed=%d", len(remaining), len(closed))
	}
}

func TestReconciler_SourceErrorKeepsEverything(t *testing.T) {
	src := &fakeSource{posErr: errors.New("502")}
	r := newReconciler(src, newFakeGateway(), ptr(-30), nil)

	tracked := []TrackedPosition{{Title: "M"}}
	remaining, _, err := r.Reconcile(context.Background(), tracked)
	if err == nil || len(remaining) != 1 {
		t.Errorf("expected error and unchanged tracking, got %v %d", err, len(remaining))
	}
}

func TestReconciler_InactiveWithoutRulesOrTrading(t *testing.T) {
	src := &fakeSource{}
	r := newReconciler(src, newFakeGateway(), nil, nil)
	if r.Active() {
		t.Error("no thresholds should be inactive")
	}

	s := mustSettings(SettingsInput{MinPrice: 0.01, MaxPrice: 0.99, StopLossPercent: ptr(-10)})
	if NewReconciler(nil, s, src, NewExecutor(nil, nil, 0, fastRetry())).Active() {
		t.Error("monitoring-only session should be inactive")
	}

	if _, _, err := r.Reconcile(context.Background(), []TrackedPosition{{Title: "M"}}); err != nil {
		t.Fatal(err)
	}
	if _, pos := src.calls(); pos != 0 {
		t.Errorf("inactive reconciler fetched positions %d times", pos)
	}
}

func TestMatchLivePosition_PrefersOutcome(t *testing.T) {
	live := []LivePosition{
		{Title: "M", Outcome: "No", TokenID: "a"},
		{Title: "M", Outcome: "Yes", TokenID: "b"},
	}
	got, ok := matchLivePosition(TrackedPosition{Title: "M", Outcome: "Yes"}, live)
	if !ok || got.TokenID != "b" {
		t.Errorf("unexpected match: %+v", got)
	}
	got, _ = matchLivePosition(TrackedPosition{Title: "M", Outcome: "Yes", TokenID: "a"}, live)
	if got.TokenID != "a" {
		t.Errorf("token should win over outcome, got %+v", got)
	}
}

func TestReconciler_SharedLivePositionSoldOnce(t *testing.T) {
	src := &fakeSource{positions: []LivePosition{
		{Title: "M", Outcome: "Yes", TokenID: "t", Size: 20, PercentRealizedPnl: ptr(-31)},
	}}
	gw := newFakeGateway()
	r := newReconciler(src, gw, ptr(-30), nil)

	tracked := []TrackedPosition{
		{Title: "M", Outcome: "Yes", TokenID: "t", Size: 10},
		{Title: "M", Outcome: "Yes", TokenID: "t", Size: 10},
	}
	remaining, closed, err := r.Reconcile(context.Background(), tracked)
	if err != nil {
		t.Fatal(err)
	}
	if _, sells, _ := gw.counts(); sells != 1 {
		t.Errorf("expected one sell for one live position, got %d", sells)
	}
	if len(closed) != 1 || len(remaining) != 0 {
		t.Errorf("expected closed=1 remaining=0, got closed=%d remaining=%d", len(closed), len(remaining))
	}
}
