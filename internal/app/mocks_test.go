package app

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"tippelaget/clients/cognite"
	"tippelaget/clients/notifier"
	"tippelaget/config"
	"tippelaget/internal/bets"
	"tippelaget/internal/metrics"
	"tippelaget/internal/store"

	"go.uber.org/zap"
)

// mockSource is a BetSource and WorkflowRunner backed by fixed data.
type mockSource struct {
	mu      sync.Mutex
	enabled bool
	records []bets.Record
	err     error
	calls   int

	exec      cognite.Execution
	execErr   error
	runCalls  int
	statusIDs []string
}

func (m *mockSource) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *mockSource) setEnabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = v
}

func (m *mockSource) ListBets(_ context.Context) ([]bets.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func (m *mockSource) setRecords(records []bets.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

func (m *mockSource) RunWorkflow(_ context.Context) (cognite.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCalls++
	return m.exec, m.execErr
}

func (m *mockSource) WorkflowStatus(_ context.Context, id string) (cognite.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusIDs = append(m.statusIDs, id)
	return m.exec, m.execErr
}

// mockCache stores JSON documents in memory.
type mockCache struct {
	mu          sync.Mutex
	enabled     bool
	docs        map[string][]byte
	getErr      error
	invalidated int
	ttl         time.Duration
}

func newMockCache() *mockCache {
	return &mockCache{enabled: true, docs: make(map[string][]byte)}
}

func (m *mockCache) Enabled() bool { return m.enabled }

func (m *mockCache) GetJSON(_ context.Context, name string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return false, m.getErr
	}
	data, ok := m.docs[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (m *mockCache) SetJSON(_ context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = data
	return nil
}

func (m *mockCache) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
	m.docs = make(map[string][]byte)
	return nil
}

func (m *mockCache) SetTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
}

func (m *mockCache) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[name]
	return ok
}

// mockMirror is an in-memory BetMirror.
type mockMirror struct {
	mu       sync.Mutex
	records  []bets.Record
	listErr  error
	upserted int
}

func (m *mockMirror) Upsert(_ context.Context, records []bets.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	m.upserted += len(records)
	return len(records), nil
}

func (m *mockMirror) List(_ context.Context) ([]bets.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.records, nil
}

// mockDeposits is an in-memory DepositStore.
type mockDeposits struct {
	mu      sync.Mutex
	rows    []store.DepositRow
	listErr error
}

func (m *mockDeposits) setListErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *mockDeposits) Add(_ context.Context, d store.DepositRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, d)
	return d.ID, nil
}

func (m *mockDeposits) List(_ context.Context) ([]store.DepositRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]store.DepositRow(nil), m.rows...), nil
}

func (m *mockDeposits) Deposits(ctx context.Context) ([]metrics.Deposit, error) {
	rows, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]metrics.Deposit, len(rows))
	for i, r := range rows {
		out[i] = metrics.Deposit{Date: r.Date, Amount: r.Amount}
	}
	return out, nil
}

// mockCompleter answers every prompt with a fixed reply.
type mockCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (m *mockCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

// mockNotifier records every report.
type mockNotifier struct {
	mu      sync.Mutex
	reports []notifier.Report
}

func (m *mockNotifier) SendReport(r notifier.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
}

func (m *mockNotifier) Close() error { return nil }

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

var errBackend = errors.New("backend down")

// rec builds a raw record the way the backend returns it.
func rec(id, player string, gw int, stake, odds, payout float64, date string) bets.Record {
	r := bets.Record{
		"id":       id,
		"player":   map[string]any{"space": "tippelaget_space_name", "externalId": player},
		"gameweek": "GW_" + strconv.Itoa(gw),
		"betNok":   stake,
		"odds":     odds,
		"date":     date,
	}
	if payout >= 0 {
		r["payout"] = payout
	}
	return r
}

func seasonRecords() []bets.Record {
	return []bets.Record{
		rec("b1", "alice", 1, 100, 2, 200, "2025-08-16"),
		rec("b2", "bob", 1, 50, 3, 0, "2025-08-17"),
		rec("b3", "alice", 2, 100, 4, 0, "2025-08-23"),
		rec("b4", "bob", 2, 50, 1.5, 75, "2025-08-23"),
	}
}

// testConfig disables the monthly schedule so fund results depend only on
// stored deposits.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Deposits.Amount = 0
	return cfg
}

type testDeps struct {
	source    *mockSource
	cache     *mockCache
	mirror    *mockMirror
	deposits  *mockDeposits
	completer *mockCompleter
	notifier  *mockNotifier
}

func newTestRunner(cfg *config.Config) (*Runner, *testDeps) {
	td := &testDeps{
		source:    &mockSource{enabled: true, records: seasonRecords()},
		cache:     newMockCache(),
		mirror:    &mockMirror{},
		deposits:  &mockDeposits{},
		completer: &mockCompleter{reply: "  Alice is a genius.  "},
		notifier:  &mockNotifier{},
	}
	deps := Deps{
		Source:    td.source,
		Cache:     td.cache,
		Mirror:    td.mirror,
		Deposits:  td.deposits,
		Workflow:  td.source,
		Completer: td.completer,
		Notifier:  td.notifier,
	}
	live := config.NewLiveConfig(cfg)
	r := NewRunner(zap.NewNop(), deps, live, config.NewSettingsManager(zap.NewNop(), nil, live))
	r.now = func() time.Time { return time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC) }
	return r, td
}
