package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"polycopy/clients/polymarketapi"
)

const (
	traderWallet  = "0x1111111111111111111111111111111111111111"
	accountWallet = "0x2222222222222222222222222222222222222222"
)

func TestNewWalletSource_Defaults(t *testing.T) {
	s := newWalletSource(nil, newFakeData(), traderWallet, accountWallet, 0, 0)
	if s.window != 2*time.Minute {
		t.Errorf("window = %v, want 2m", s.window)
	}
	if s.limit != 10 {
		t.Errorf("limit = %d, want 10", s.limit)
	}
}

func TestWalletSource_RecentBets(t *testing.T) {
	data := newFakeData()
	ts := time.Now().Add(-30 * time.Second).Unix()
	data.setBuys(traderWallet,
		polymarketapi.Activity{
			ConditionID: "cond-1", Title: "Will it rain?", Outcome: "Yes", Price: 0.42,
			UsdcSize: 120, Asset: "tok-yes", Slug: "will-it-rain", Side: "BUY",
			Timestamp: ts, TransactionHash: "0xabc",
		},
		polymarketapi.Activity{
			ConditionID: "cond-2", Title: "Who wins?", Outcome: "No", Price: 0.7,
			UsdcSize: 50, Side: "BUY", Timestamp: ts,
		},
	)
	data.markets["cond-2"] = &polymarketapi.GammaMarket{
		ConditionID:  "cond-2",
		Outcomes:     json.RawMessage(`"[\"Yes\",\"No\"]"`),
		ClobTokenIDs: json.RawMessage(`["tok-2y","tok-2n"]`),
	}

	s := newWalletSource(nil, data, traderWallet, accountWallet, time.Minute, 5)
	trades, err := s.RecentBets(context.Background())
	if err != nil {
		t.Fatalf("RecentBets: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}

	first := trades[0]
	if first.TokenID != "tok-yes" || first.Title != "Will it rain?" || first.UsdcSize != 120 || first.Slug != "will-it-rain" {
		t.Errorf("first trade = %+v", first)
	}
	if first.Timestamp.Unix() != ts {
		t.Errorf("timestamp = %v, want %d", first.Timestamp, ts)
	}
	if trades[1].TokenID != "tok-2n" {
		t.Errorf("resolved token = %q, want tok-2n", trades[1].TokenID)
	}

	// The gamma lookup is cached per condition.
	if _, err := s.RecentBets(context.Background()); err != nil {
		t.Fatal(err)
	}
	if data.marketCalls != 1 {
		t.Errorf("market lookups = %d, want 1", data.marketCalls)
	}
}

func TestWalletSource_RecentBets_UnresolvableToken(t *testing.T) {
	data := newFakeData()
	data.setBuys(traderWallet, polymarketapi.Activity{ConditionID: "cond-x", Outcome: "Yes", Timestamp: time.Now().Unix()})

	s := newWalletSource(nil, data, traderWallet, accountWallet, 0, 0)
	trades, err := s.RecentBets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].TokenID != "" {
		t.Fatalf("trades = %+v, want one trade without token", trades)
	}
}

func TestWalletSource_RecentBets_Error(t *testing.T) {
	data := newFakeData()
	data.buysErr = errors.New("boom")
	s := newWalletSource(nil, data, traderWallet, accountWallet, 0, 0)
	if _, err := s.RecentBets(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestWalletSource_AccountPositions(t *testing.T) {
	pct := -22.5
	data := newFakeData()
	data.positions[accountWallet] = []polymarketapi.Position{
		{Title: "Will it rain?", Outcome: "Yes", Asset: "tok-yes", Size: 10, CurPrice: 0.3, CurrentValue: 3, PercentRealizedPnl: &pct},
		{Title: "Other", Outcome: "No", Asset: "tok-no", Size: 4},
	}
	data.positions[traderWallet] = []polymarketapi.Position{{Asset: "trader-only"}}

	s := newWalletSource(nil, data, traderWallet, accountWallet, 0, 0)
	live, err := s.AccountPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("got %d positions, want 2", len(live))
	}
	if live[0].TokenID != "tok-yes" || live[0].PercentRealizedPnl == nil || *live[0].PercentRealizedPnl != pct {
		t.Errorf("first position = %+v", live[0])
	}
	if live[1].PercentRealizedPnl != nil {
		t.Error("missing pnl should stay nil")
	}
}

func TestWalletSource_AccountPositionsWithoutAccount(t *testing.T) {
	data := newFakeData()
	data.positions[traderWallet] = []polymarketapi.Position{{Asset: "tok-3", Size: 10}}
	src := newWalletSource(nil, data, traderWallet, "", time.Minute, 10)

	got, err := src.AccountPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("positions = %+v, want none", got)
	}
}
