package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBuildReport(t *testing.T) {
	r, _ := newTestRunner(testConfig())
	st, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := BuildReport(st.Snapshot, "https://tippelaget.example")

	if report.Gameweek != 2 || report.BetCount != 4 {
		t.Errorf("expected gameweek 2 with 4 bets, got %d / %d", report.Gameweek, report.BetCount)
	}
	if !report.TeamPayout.Equal(decimal.NewFromInt(275)) || !report.TeamStake.Equal(decimal.NewFromInt(300)) {
		t.Errorf("unexpected team totals: payout=%s stake=%s", report.TeamPayout, report.TeamStake)
	}
	if !report.TeamDiff.Equal(decimal.NewFromInt(-25)) {
		t.Errorf("expected team diff -25, got %s", report.TeamDiff)
	}
	if report.TopEarner == nil || report.TopEarner.Player != "alice" {
		t.Errorf("expected alice as top earner, got %+v", report.TopEarner)
	}
	if report.Luckiest == nil || report.Luckiest.Player != "alice" {
		t.Errorf("expected alice as luckiest, got %+v", report.Luckiest)
	}
	if report.Unluckiest == nil || report.Unluckiest.Player != "bob" {
		t.Errorf("expected bob as unluckiest, got %+v", report.Unluckiest)
	}
	if !report.Unluckiest.Value.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("expected bob's ratio 1.5, got %s", report.Unluckiest.Value)
	}
	if !report.FundPayout.Valid || !report.FundPayout.Decimal.Equal(decimal.NewFromInt(275)) {
		t.Errorf("expected fund payout 275 without deposits, got %+v", report.FundPayout)
	}
	if report.DashboardURL != "https://tippelaget.example" {
		t.Errorf("unexpected dashboard url %q", report.DashboardURL)
	}
}

func TestBuildReport_FundError(t *testing.T) {
	cfg := testConfig()
	cfg.Deposits.Amount = 600
	r, _ := newTestRunner(cfg)
	st, _ := r.Refresh(context.Background())

	report := BuildReport(st.Snapshot, "")

	if report.FundNote == "" {
		t.Error("expected fund note when deposits cannot be mapped")
	}
	if report.FundPayout.Valid || report.FundStake.Valid {
		t.Error("expected no fund figures alongside a fund note")
	}
}
