package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tippelaget/clients/cognite"
	"tippelaget/clients/rediscache"
	"tippelaget/config"
	"tippelaget/internal/assistant"
	"tippelaget/internal/bets"
	"tippelaget/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestNewRunner(t *testing.T) {
	cfg := testConfig()
	liveConfig := config.NewLiveConfig(cfg)

	runner := NewRunner(zap.NewNop(), Deps{}, liveConfig, nil)

	if runner == nil {
		t.Fatal("expected runner to be created")
	}
	if runner.Hub() == nil {
		t.Error("expected hub to be initialized")
	}
	if runner.Metrics() == nil {
		t.Error("expected metrics registry to be initialized")
	}
	if st := runner.State(); st == nil || st.Ready {
		t.Errorf("expected empty, not-ready state, got %+v", st)
	}
	if _, ok := runner.Snapshot(); ok {
		t.Error("expected no snapshot before the first refresh")
	}
	if got := len(runner.Personas()); got != 2 {
		t.Errorf("expected 2 personas, got %d", got)
	}
}

func TestRefresh_Success(t *testing.T) {
	r, td := newTestRunner(testConfig())

	st, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !st.Ready || st.Source != SourceCognite {
		t.Errorf("expected ready state from cognite, got ready=%v source=%q", st.Ready, st.Source)
	}
	if st.Snapshot.BetCount != 4 || st.Snapshot.LatestGameweek != 2 {
		t.Errorf("unexpected snapshot: bets=%d latest=%d", st.Snapshot.BetCount, st.Snapshot.LatestGameweek)
	}
	if len(st.Bets) != 4 {
		t.Errorf("expected 4 normalized bets, got %d", len(st.Bets))
	}

	if !td.cache.has(rediscache.KeySnapshot) {
		t.Error("expected snapshot to be cached")
	}

	msg, ok := r.Hub().Latest()
	if !ok || msg.Type != MessageSnapshot {
		t.Errorf("expected snapshot broadcast, got %+v", msg)
	}

	if got := testutil.ToFloat64(r.Metrics().BetsLoaded); got != 4 {
		t.Errorf("expected bets_loaded 4, got %v", got)
	}
	if got := testutil.ToFloat64(r.Metrics().TeamDiff); got != -25 {
		t.Errorf("expected team diff -25, got %v", got)
	}
	if got := testutil.ToFloat64(r.Metrics().Refreshes.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 successful refresh, got %v", got)
	}
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	r, td := newTestRunner(testConfig())

	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	td.cache.enabled = false
	td.source.setRecords([]bets.Record{{"id": "x", "player": "alice", "gameweek": "week one"}})

	st, err := r.Refresh(context.Background())
	var gwErr *bets.MalformedGameweekError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected MalformedGameweekError, got %v", err)
	}

	if !st.Ready || st.Snapshot.BetCount != 4 {
		t.Errorf("expected previous snapshot to survive, got ready=%v bets=%d", st.Ready, st.Snapshot.BetCount)
	}
	if st.Error == "" || !errors.As(st.Err(), &gwErr) {
		t.Errorf("expected error to be recorded on the state, got %q", st.Error)
	}

	msg, _ := r.Hub().Latest()
	if msg.Type != MessageError {
		t.Errorf("expected error broadcast, got %q", msg.Type)
	}
	if got := testutil.ToFloat64(r.Metrics().Refreshes.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed refresh, got %v", got)
	}
}

func TestRefresh_FirstFailureNotReady(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.source.err = errBackend
	td.mirror.listErr = errors.New("db down")

	st, err := r.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if st.Ready {
		t.Error("expected state not to be ready")
	}
	if _, ok := r.Snapshot(); ok {
		t.Error("expected no snapshot")
	}
}

func TestRefresh_ReportOnNewGameweek(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.cache.enabled = false

	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if td.notifier.count() != 0 {
		t.Fatalf("expected first refresh to only prime the tracker, got %d reports", td.notifier.count())
	}

	// Same gameweek, no report.
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if td.notifier.count() != 0 {
		t.Errorf("expected no report for an unchanged gameweek, got %d", td.notifier.count())
	}

	td.source.setRecords(append(seasonRecords(), rec("b5", "alice", 3, 100, 2, 0, "2025-08-30")))
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if td.notifier.count() != 1 {
		t.Fatalf("expected 1 report, got %d", td.notifier.count())
	}
	if got := td.notifier.reports[0].Gameweek; got != 3 {
		t.Errorf("expected report for gameweek 3, got %d", got)
	}
	if got := testutil.ToFloat64(r.Metrics().ReportsSent); got != 1 {
		t.Errorf("expected reports_sent 1, got %v", got)
	}
}

func TestRefresh_ReportsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.ReportsEnabled = false
	r, td := newTestRunner(cfg)
	td.cache.enabled = false

	_, _ = r.Refresh(context.Background())
	td.source.setRecords(append(seasonRecords(), rec("b5", "alice", 3, 100, 2, 0, "2025-08-30")))
	_, _ = r.Refresh(context.Background())

	if td.notifier.count() != 0 {
		t.Errorf("expected no reports when disabled, got %d", td.notifier.count())
	}
}

func TestRefresh_MonthlyDeposits(t *testing.T) {
	tests := []struct {
		name         string
		skip         bool
		wantErr      bool
		wantPayout   string
		wantUnmapped int
	}{
		{name: "deposits before the season fail the fund", wantErr: true},
		{name: "skipped deposits", skip: true, wantPayout: "875", wantUnmapped: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Deposits.Amount = 600
			cfg.Deposits.SkipUnmappable = tt.skip
			r, _ := newTestRunner(cfg)

			st, err := r.Refresh(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			snap := st.Snapshot

			if tt.wantErr {
				if snap.TippekassaError == "" {
					t.Error("expected tippekassa error")
				}
				if snap.BetCount != 4 {
					t.Error("expected other tables to survive the fund error")
				}
				return
			}

			if snap.TippekassaError != "" {
				t.Fatalf("unexpected tippekassa error: %s", snap.TippekassaError)
			}
			weeks := snap.Tippekassa.Weeks
			last := weeks[len(weeks)-1]
			if !last.CumulativePayoutPlusDeposit.Equal(decimal.RequireFromString(tt.wantPayout)) {
				t.Errorf("expected fund payout %s, got %s", tt.wantPayout, last.CumulativePayoutPlusDeposit)
			}
			if got := len(snap.Tippekassa.Unmapped); got != tt.wantUnmapped {
				t.Errorf("expected %d unmapped deposits, got %d", tt.wantUnmapped, got)
			}
		})
	}
}

func TestRefresh_StoredDeposits(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.deposits.rows = []store.DepositRow{{
		ID:     1,
		Date:   time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC),
		Amount: decimal.NewFromInt(500),
	}}

	st, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	weeks := st.Snapshot.Tippekassa.Weeks
	if len(weeks) != 2 {
		t.Fatalf("expected 2 fund weeks, got %d", len(weeks))
	}
	if !weeks[0].Deposit.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected deposit in gameweek 1, got %s", weeks[0].Deposit)
	}
	if !weeks[1].CumulativePayoutPlusDeposit.Equal(decimal.NewFromInt(775)) {
		t.Errorf("expected fund payout 775, got %s", weeks[1].CumulativePayoutPlusDeposit)
	}
}

func TestRefresh_StoredDepositsUnavailable(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.deposits.rows = []store.DepositRow{{
		ID:     1,
		Date:   time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC),
		Amount: decimal.NewFromInt(500),
	}}

	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	td.deposits.setListErr(errors.New("db down"))
	st, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("expected the refresh to succeed, got %v", err)
	}

	if !strings.Contains(st.Snapshot.TippekassaError, "db down") {
		t.Errorf("expected deposit error in the fund table, got %q", st.Snapshot.TippekassaError)
	}
	if len(st.Snapshot.Tippekassa.Weeks) != 0 {
		t.Errorf("expected no fund weeks without deposits, got %d", len(st.Snapshot.Tippekassa.Weeks))
	}
	if st.Snapshot.BetCount != 4 || st.Snapshot.TeamTotal.Difference == nil {
		t.Error("expected the other tables to stay available")
	}
}

func TestWarmStart(t *testing.T) {
	seed, seedDeps := newTestRunner(testConfig())
	if _, err := seed.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, td := newTestRunner(testConfig())
	td.cache.docs[rediscache.KeySnapshot] = seedDeps.cache.docs[rediscache.KeySnapshot]
	r.warmStart(context.Background())

	st := r.State()
	if !st.Ready || st.Source != SourceCache {
		t.Fatalf("expected ready state from cache, got ready=%v source=%q", st.Ready, st.Source)
	}
	if st.Snapshot.BetCount != 4 {
		t.Errorf("expected cached snapshot with 4 bets, got %d", st.Snapshot.BetCount)
	}
	if len(st.Bets) != 4 {
		t.Errorf("expected 4 cached bets, got %d", len(st.Bets))
	}
}

func TestWarmStart_SnapshotWithoutBets(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.cache.docs[rediscache.KeySnapshot] = []byte(`{"snapshot":{"bet_count":4}}`)
	r.warmStart(context.Background())

	if r.State().Ready {
		t.Error("expected a cached snapshot without bets to be ignored")
	}
}

func TestAddDeposit(t *testing.T) {
	r, td := newTestRunner(testConfig())

	id, err := r.AddDeposit(context.Background(), store.DepositRow{
		Date:   time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC),
		Amount: decimal.NewFromInt(200),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 || len(td.deposits.rows) != 1 {
		t.Errorf("expected deposit 1 stored, got id=%d rows=%d", id, len(td.deposits.rows))
	}
	if len(r.refreshReq) != 1 {
		t.Error("expected a refresh to be queued")
	}

	schedule, err := r.ListDeposits(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(schedule.Extra) != 1 || len(schedule.Monthly) != 0 {
		t.Errorf("unexpected schedule: %+v", schedule)
	}
}

func TestAddDeposit_NoStore(t *testing.T) {
	r := NewRunner(zap.NewNop(), Deps{}, config.NewLiveConfig(testConfig()), nil)

	_, err := r.AddDeposit(context.Background(), store.DepositRow{Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrNoDepositStore) {
		t.Errorf("expected ErrNoDepositStore, got %v", err)
	}
}

func TestOnConfigUpdate(t *testing.T) {
	r, td := newTestRunner(testConfig())

	cfg := testConfig()
	cfg.Redis.SnapshotTTL = 5 * time.Minute
	cfg.Refresh.Interval = time.Minute
	cfg.OpenAI.ProphetModel = "gpt-test"
	r.OnConfigUpdate(cfg)

	if td.cache.ttl != 5*time.Minute {
		t.Errorf("expected cache ttl 5m, got %v", td.cache.ttl)
	}
	select {
	case d := <-r.intervalCh:
		if d != time.Minute {
			t.Errorf("expected interval 1m, got %v", d)
		}
	default:
		t.Error("expected interval to be pushed to the refresh loop")
	}
	p, ok := r.Assistant().Persona(assistant.Prophet)
	if !ok || p.Model != "gpt-test" {
		t.Errorf("expected rebuilt assistant with new model, got %+v", p)
	}

	// A second update replaces a pending interval instead of blocking.
	r.OnConfigUpdate(cfg)
	r.OnConfigUpdate(cfg)
	if len(r.intervalCh) != 1 {
		t.Errorf("expected one pending interval, got %d", len(r.intervalCh))
	}
}

func TestWorkflowStatus_CompletionTriggersRefreshOnce(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.source.exec = cognite.Execution{ID: "exec-1", Status: "completed"}

	for i := 0; i < 3; i++ {
		exec, err := r.WorkflowStatus(context.Background(), "exec-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !exec.Done() {
			t.Errorf("expected done execution, got %+v", exec)
		}
	}

	if td.cache.invalidated != 1 {
		t.Errorf("expected one cache invalidation, got %d", td.cache.invalidated)
	}
	if len(r.refreshReq) != 1 {
		t.Errorf("expected one queued refresh, got %d", len(r.refreshReq))
	}
}

func TestWorkflow_NotConfigured(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.source.enabled = false

	if _, err := r.RunWorkflow(context.Background()); !errors.Is(err, cognite.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := r.WorkflowStatus(context.Background(), "exec-1"); !errors.Is(err, cognite.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAsk(t *testing.T) {
	r, td := newTestRunner(testConfig())
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ans := r.Ask(context.Background(), "Prophet", "Who is best?")
	if ans.Error != "" {
		t.Fatalf("unexpected answer error: %s", ans.Error)
	}
	if ans.Text != "Alice is a genius." {
		t.Errorf("expected trimmed reply, got %q", ans.Text)
	}
	if ans.Rows != 4 {
		t.Errorf("expected 4 snippet rows, got %d", ans.Rows)
	}
	if got := testutil.ToFloat64(r.Metrics().AssistantRequests.WithLabelValues(assistant.Prophet, "ok")); got != 1 {
		t.Errorf("expected 1 ok assistant request, got %v", got)
	}

	skipped := r.Ask(context.Background(), assistant.King, "   ")
	if !skipped.Skipped {
		t.Error("expected empty question to be skipped")
	}
	if len(td.completer.prompts) != 1 {
		t.Errorf("expected 1 completion call, got %d", len(td.completer.prompts))
	}
}

func TestAskText_Error(t *testing.T) {
	r, td := newTestRunner(testConfig())
	td.completer.err = errors.New("quota exceeded")

	got := r.AskText(context.Background(), assistant.King, "Hvem vinner?")
	if got == "" || got == "Alice is a genius." {
		t.Errorf("expected error text, got %q", got)
	}
	if c := testutil.ToFloat64(r.Metrics().AssistantRequests.WithLabelValues(assistant.King, "error")); c != 1 {
		t.Errorf("expected 1 failed assistant request, got %v", c)
	}
}

func TestSendReport(t *testing.T) {
	r, td := newTestRunner(testConfig())

	if _, err := r.SendReport(); err == nil {
		t.Error("expected error before the first snapshot")
	}

	_, _ = r.Refresh(context.Background())
	gw, err := r.SendReport()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw != 2 || td.notifier.count() != 1 {
		t.Errorf("expected report for gameweek 2, got gw=%d reports=%d", gw, td.notifier.count())
	}
}

func TestGetStats(t *testing.T) {
	r, _ := newTestRunner(testConfig())
	_, _ = r.Refresh(context.Background())

	stats := r.GetStats()
	if !stats.Snapshot.Ready || stats.Snapshot.BetCount != 4 || stats.Snapshot.Players != 2 {
		t.Errorf("unexpected snapshot stats: %+v", stats.Snapshot)
	}
	if !stats.Sources.Cognite || !stats.Sources.Cache || !stats.Sources.Mirror {
		t.Errorf("unexpected source flags: %+v", stats.Sources)
	}
	if stats.Build.GoVersion == "" {
		t.Error("expected go version")
	}
}
