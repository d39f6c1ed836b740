package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tippelaget/clients"
	"tippelaget/clients/cognite"
	"tippelaget/clients/discord"
	"tippelaget/clients/notifier"
	"tippelaget/clients/rediscache"
	"tippelaget/config"
	"tippelaget/internal/assistant"
	"tippelaget/internal/bets"
	"tippelaget/internal/metrics"
	"tippelaget/internal/store"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// refreshTimeout bounds one load-and-compute cycle.
const refreshTimeout = 2 * time.Minute

// ErrNoDepositStore is returned by deposit writes without a database.
var ErrNoDepositStore = errors.New("deposits need DATABASE_URL configured")

// WorkflowRunner triggers and polls the backend ingestion workflow.
type WorkflowRunner interface {
	Enabled() bool
	RunWorkflow(ctx context.Context) (cognite.Execution, error)
	WorkflowStatus(ctx context.Context, executionID string) (cognite.Execution, error)
}

// DepositStore keeps one-off deposits on top of the monthly schedule.
type DepositStore interface {
	Add(ctx context.Context, d store.DepositRow) (int64, error)
	List(ctx context.Context) ([]store.DepositRow, error)
	Deposits(ctx context.Context) ([]metrics.Deposit, error)
}

// CommandHandler answers chat commands with the assistants.
type CommandHandler interface {
	HandleCommands(ctx context.Context, ask discord.AskFunc) error
}

// Deps are the runner's collaborators. Nil entries disable the feature.
type Deps struct {
	Source    BetSource
	Cache     RecordCache
	Mirror    BetMirror
	Deposits  DepositStore
	Workflow  WorkflowRunner
	Completer assistant.Completer
	Notifier  notifier.Notifier
	Commands  CommandHandler
}

// DepsFromClients wires the external clients and, when db is set, the
// Postgres repositories.
func DepsFromClients(c *clients.Clients, db *sqlx.DB, queryTimeout time.Duration) Deps {
	deps := Deps{
		Source:    c.Cognite,
		Cache:     c.Cache,
		Workflow:  c.Cognite,
		Completer: c.OpenAI,
		Notifier:  c.Notifier,
		Commands:  c.Discord,
	}
	if db != nil {
		deps.Mirror = store.NewBetRepo(db, queryTimeout)
		deps.Deposits = store.NewDepositRepo(db, queryTimeout)
	}
	return deps
}

// State is the latest refresh outcome. After a failed refresh Snapshot and
// Bets still hold the last good data and Error carries the failure.
type State struct {
	Snapshot    metrics.Snapshot `json:"snapshot"`
	Bets        []bets.Bet       `json:"-"`
	Ready       bool             `json:"ready"`
	Source      string           `json:"source"`
	RefreshedAt time.Time        `json:"refreshed_at"`
	Error       string           `json:"error,omitempty"`

	err error
}

// Err returns the refresh error, if any.
func (s *State) Err() error {
	return s.err
}

type Runner struct {
	logger          *zap.Logger
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager
	deps            Deps

	loader    *Loader
	assistant atomic.Pointer[assistant.Service]
	hub       *Hub
	metrics   *MetricsRegistry
	server    *http.Server
	startTime time.Time
	now       func() time.Time

	state     atomic.Pointer[State]
	refreshMu sync.Mutex

	// Gameweek seen by the previous refresh; reports fire when it grows.
	lastGameweek int
	reportPrimed bool

	openAI     config.OpenAIConfig
	openAIMu   sync.Mutex
	refreshReq chan struct{}
	intervalCh chan time.Duration

	completedMu sync.Mutex
	completed   map[string]bool
}

func NewRunner(logger *zap.Logger, deps Deps, liveConfig *config.LiveConfig, settingsManager *config.SettingsManager) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := liveConfig.Get()

	r := &Runner{
		logger:          logger,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
		deps:            deps,
		loader:          NewLoader(logger, deps.Source, deps.Cache, deps.Mirror),
		hub:             NewHub(logger),
		metrics:         NewMetricsRegistry(),
		startTime:       time.Now(),
		now:             time.Now,
		openAI:          cfg.OpenAI,
		refreshReq:      make(chan struct{}, 1),
		intervalCh:      make(chan time.Duration, 1),
		completed:       make(map[string]bool),
	}
	r.assistant.Store(assistant.New(logger, cfg, deps.Completer))
	r.hub.OnClientCount(func(n int) { r.metrics.WSClients.Set(float64(n)) })
	return r
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.logger.Info("config update received, propagating to components")

	select {
	case <-r.intervalCh:
	default:
	}
	r.intervalCh <- cfg.Refresh.Interval

	if c, ok := r.deps.Cache.(interface{ SetTTL(time.Duration) }); ok {
		c.SetTTL(cfg.Redis.SnapshotTTL)
	}

	r.openAIMu.Lock()
	changed := r.openAI != cfg.OpenAI
	r.openAI = cfg.OpenAI
	r.openAIMu.Unlock()
	if changed {
		// Rebuilding resets the rate limiters.
		r.assistant.Store(assistant.New(r.logger, cfg, r.deps.Completer))
	}
}

// Run serves the dashboard and refreshes the snapshot until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)
	defer r.liveConfig.RemoveObserver(r)

	go r.hub.Run(ctx)
	r.warmStart(ctx)

	if cfg.Server.Enabled {
		if err := r.startServer(cfg); err != nil {
			return err
		}
		r.logger.Info("http server started", zap.Int("port", cfg.Server.Port))
	}

	if cfg.Discord.CommandsEnabled && r.deps.Commands != nil {
		if err := r.deps.Commands.HandleCommands(ctx, r.AskText); err != nil {
			r.logger.Warn("failed to register chat commands", zap.Error(err))
		}
	}

	r.runRefreshLoop(ctx, cfg.Refresh.Interval)
	r.logger.Info("runner shutting down")

	if r.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.server.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	return nil
}

// cachedState is what a refresh leaves in the cache for the next warm start.
type cachedState struct {
	Snapshot metrics.Snapshot `json:"snapshot"`
	Bets     []bets.Bet       `json:"bets"`
}

// warmStart serves the last cached snapshot until the first refresh lands.
func (r *Runner) warmStart(ctx context.Context) {
	if !r.loader.cacheEnabled() {
		return
	}
	var cached cachedState
	hit, err := r.deps.Cache.GetJSON(ctx, rediscache.KeySnapshot, &cached)
	if err != nil || !hit || cached.Bets == nil {
		return
	}
	snap := cached.Snapshot
	r.state.Store(&State{Snapshot: snap, Bets: cached.Bets, Ready: true, Source: SourceCache, RefreshedAt: snap.GeneratedAt})
	r.logger.Info("serving cached snapshot", zap.Time("generated_at", snap.GeneratedAt), zap.Int("bets", len(cached.Bets)))
}

func (r *Runner) runRefreshLoop(ctx context.Context, interval time.Duration) {
	refresh := func() {
		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		_, _ = r.Refresh(refreshCtx)
	}
	refresh()

	if interval <= 0 {
		interval = config.Defaults().Refresh.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		case <-r.refreshReq:
			refresh()
		case d := <-r.intervalCh:
			if d > 0 && d != interval {
				interval = d
				ticker.Reset(interval)
				r.logger.Info("refresh interval changed", zap.Duration("interval", interval))
			}
		}
	}
}

// TriggerRefresh asks the refresh loop for an immediate run. Requests made
// while one is pending are coalesced.
func (r *Runner) TriggerRefresh() {
	select {
	case r.refreshReq <- struct{}{}:
	default:
	}
}

// Refresh loads the records, recomputes every table and publishes the result.
// Load and normalization failures keep the previous snapshot.
func (r *Runner) Refresh(ctx context.Context) (*State, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	started := time.Now()
	cfg := r.liveConfig.Get()

	records, source, err := r.loader.Load(ctx)
	var bs []bets.Bet
	if err == nil {
		bs, err = bets.Normalize(records)
	}
	if err != nil {
		r.metrics.ObserveRefresh(source, time.Since(started), err)
		r.logger.Error("snapshot refresh failed", zap.String("source", source), zap.Error(err))

		next := &State{Source: source, RefreshedAt: r.now(), Error: err.Error(), err: err}
		if prev := r.state.Load(); prev != nil {
			next.Snapshot, next.Bets, next.Ready = prev.Snapshot, prev.Bets, prev.Ready
		}
		r.state.Store(next)
		r.hub.Broadcast(Message{Type: MessageError, Payload: map[string]string{"error": err.Error()}})
		return next, err
	}

	deposits, depositErr := r.deposits(ctx, cfg)
	if depositErr != nil {
		r.logger.Warn("deposits unavailable, fund table skipped", zap.Error(depositErr))
	}
	snap := metrics.Compute(bs, deposits, metrics.Options{
		Tippekassa:  metrics.TippekassaOptions{SkipUnmappable: cfg.Deposits.SkipUnmappable},
		DepositsErr: depositErr,
		Now:         r.now,
	})
	st := &State{Snapshot: snap, Bets: bs, Ready: true, Source: source, RefreshedAt: snap.GeneratedAt}
	r.state.Store(st)

	if r.loader.cacheEnabled() {
		if err := r.deps.Cache.SetJSON(ctx, rediscache.KeySnapshot, cachedState{Snapshot: snap, Bets: bs}); err != nil {
			r.logger.Warn("snapshot cache write failed", zap.Error(err))
		}
	}

	r.metrics.ObserveRefresh(source, time.Since(started), nil)
	r.metrics.BetsLoaded.Set(float64(snap.BetCount))
	r.metrics.LatestGameweek.Set(float64(snap.LatestGameweek))
	if d := snap.TeamTotal.Difference; d != nil {
		r.metrics.TeamDiff.Set(d.Diff.InexactFloat64())
	}
	r.hub.Broadcast(Message{Type: MessageSnapshot, Payload: snap})

	r.logger.Info("snapshot refreshed",
		zap.String("source", source),
		zap.Int("bets", snap.BetCount),
		zap.Int("latest_gameweek", snap.LatestGameweek),
		zap.Duration("took", time.Since(started)),
	)

	r.maybeReport(cfg, snap)
	return st, nil
}

// deposits merges the monthly schedule with stored one-off deposits. An error
// means the list is incomplete and must not feed the fund.
func (r *Runner) deposits(ctx context.Context, cfg *config.Config) ([]metrics.Deposit, error) {
	var out []metrics.Deposit
	if cfg.Deposits.Amount > 0 {
		start, err := cfg.Deposits.StartDate()
		if err != nil {
			return nil, fmt.Errorf("deposit start date %q: %w", cfg.Deposits.Start, err)
		}
		out = metrics.MonthlyDeposits(start, r.now(), cfg.Deposits.OffsetDays, cfg.Deposits.AmountDecimal())
	}

	if r.deps.Deposits != nil {
		extra, err := r.deps.Deposits.Deposits(ctx)
		if err != nil {
			return nil, fmt.Errorf("read stored deposits: %w", err)
		}
		out = append(out, extra...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// maybeReport sends a report when the latest gameweek grows. The first
// refresh after startup only records the gameweek.
func (r *Runner) maybeReport(cfg *config.Config, snap metrics.Snapshot) {
	latest := snap.LatestGameweek
	if !r.reportPrimed {
		r.reportPrimed = true
		r.lastGameweek = latest
		return
	}
	if latest <= r.lastGameweek {
		return
	}
	r.lastGameweek = latest

	if !cfg.Refresh.ReportsEnabled || r.deps.Notifier == nil {
		return
	}
	r.deps.Notifier.SendReport(BuildReport(snap, cfg.Server.PublicURL))
	r.metrics.ReportsSent.Inc()
	r.logger.Info("sent gameweek report", zap.Int("gameweek", latest))
}

// SendReport pushes a report for the current snapshot regardless of the
// gameweek tracker.
func (r *Runner) SendReport() (int, error) {
	st := r.State()
	if !st.Ready {
		return 0, errors.New("no snapshot yet")
	}
	if r.deps.Notifier == nil {
		return 0, errors.New("no notifier configured")
	}
	r.deps.Notifier.SendReport(BuildReport(st.Snapshot, r.liveConfig.Get().Server.PublicURL))
	r.metrics.ReportsSent.Inc()
	return st.Snapshot.LatestGameweek, nil
}

// State returns the latest refresh outcome; never nil.
func (r *Runner) State() *State {
	if st := r.state.Load(); st != nil {
		return st
	}
	return &State{}
}

// Snapshot returns the current snapshot and whether one has been computed.
func (r *Runner) Snapshot() (metrics.Snapshot, bool) {
	st := r.State()
	return st.Snapshot, st.Ready
}

// Personas lists the assistant personas.
func (r *Runner) Personas() []assistant.Persona {
	return r.assistant.Load().Personas()
}

// Hub returns the live feed hub.
func (r *Runner) Hub() *Hub {
	return r.hub
}

// Metrics returns the Prometheus registry.
func (r *Runner) Metrics() *MetricsRegistry {
	return r.metrics
}

// Loader returns the record loader.
func (r *Runner) Loader() *Loader {
	return r.loader
}

// Assistant returns the current assistant service.
func (r *Runner) Assistant() *assistant.Service {
	return r.assistant.Load()
}

// Ask puts a question to a persona over the current bets.
func (r *Runner) Ask(ctx context.Context, persona, question string) assistant.Answer {
	ans := r.assistant.Load().Ask(ctx, persona, question, r.State().Bets)
	if !ans.Skipped {
		r.metrics.ObserveAssistant(ans.Persona, ans.Error != "")
	}
	return ans
}

// AskText adapts Ask for chat commands.
func (r *Runner) AskText(ctx context.Context, persona, question string) string {
	ans := r.Ask(ctx, persona, question)
	if ans.Error != "" {
		return ans.Error
	}
	return ans.Text
}

// RunWorkflow starts the backend ingestion workflow.
func (r *Runner) RunWorkflow(ctx context.Context) (cognite.Execution, error) {
	if r.deps.Workflow == nil || !r.deps.Workflow.Enabled() {
		return cognite.Execution{}, cognite.ErrNotConfigured
	}
	return r.deps.Workflow.RunWorkflow(ctx)
}

// WorkflowStatus polls an execution. The first time an execution is seen
// completed, cached records are dropped and a refresh is queued.
func (r *Runner) WorkflowStatus(ctx context.Context, executionID string) (cognite.Execution, error) {
	if r.deps.Workflow == nil || !r.deps.Workflow.Enabled() {
		return cognite.Execution{}, cognite.ErrNotConfigured
	}
	exec, err := r.deps.Workflow.WorkflowStatus(ctx, executionID)
	if err != nil {
		return exec, err
	}

	if exec.Done() && exec.Status == "completed" {
		r.completedMu.Lock()
		first := !r.completed[exec.ID]
		r.completed[exec.ID] = true
		r.completedMu.Unlock()
		if first {
			r.loader.InvalidateCache(ctx)
			r.TriggerRefresh()
		}
	}
	return exec, nil
}

// DepositSchedule lists the monthly deposits and the stored one-off deposits.
type DepositSchedule struct {
	Monthly []metrics.Deposit `json:"monthly"`
	Extra   []store.DepositRow `json:"extra"`
}

func (r *Runner) ListDeposits(ctx context.Context) (DepositSchedule, error) {
	cfg := r.liveConfig.Get()
	out := DepositSchedule{Monthly: []metrics.Deposit{}, Extra: []store.DepositRow{}}

	if cfg.Deposits.Amount > 0 {
		start, err := cfg.Deposits.StartDate()
		if err != nil {
			return out, fmt.Errorf("deposit start date: %w", err)
		}
		if m := metrics.MonthlyDeposits(start, r.now(), cfg.Deposits.OffsetDays, cfg.Deposits.AmountDecimal()); m != nil {
			out.Monthly = m
		}
	}
	if r.deps.Deposits != nil {
		rows, err := r.deps.Deposits.List(ctx)
		if err != nil {
			return out, err
		}
		if rows != nil {
			out.Extra = rows
		}
	}
	return out, nil
}

// AddDeposit stores a one-off deposit and queues a refresh.
func (r *Runner) AddDeposit(ctx context.Context, d store.DepositRow) (int64, error) {
	if r.deps.Deposits == nil {
		return 0, ErrNoDepositStore
	}
	id, err := r.deps.Deposits.Add(ctx, d)
	if err != nil {
		return 0, err
	}
	r.TriggerRefresh()
	return id, nil
}

// ServiceStats holds service statistics for /stats and the dashboard.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Snapshot struct {
		Ready          bool   `json:"ready"`
		Source         string `json:"source,omitempty"`
		BetCount       int    `json:"bet_count"`
		Players        int    `json:"players"`
		LatestGameweek int    `json:"latest_gameweek"`
		RefreshedAt    string `json:"refreshed_at,omitempty"`
		RefreshedAgo   string `json:"refreshed_ago,omitempty"`
		LastError      string `json:"last_error,omitempty"`
	} `json:"snapshot"`

	// Which integrations are live
	Sources struct {
		Cognite    bool `json:"cognite"`
		Cache      bool `json:"cache"`
		Mirror     bool `json:"mirror"`
		Assistants bool `json:"assistants"`
		Settings   bool `json:"settings_store"`
	} `json:"sources"`

	LiveFeed HubStats `json:"live_feed"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"` // bytes currently allocated on heap
		HeapInuse  uint64 `json:"heap_inuse"` // bytes in in-use spans
		NumGC      uint32 `json:"num_gc"`     // number of completed GC cycles
		LastGC     string `json:"last_gc"`    // time of last GC
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

// GetStats returns service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	st := r.State()
	stats.Snapshot.Ready = st.Ready
	stats.Snapshot.Source = st.Source
	stats.Snapshot.BetCount = st.Snapshot.BetCount
	stats.Snapshot.Players = len(st.Snapshot.Players)
	stats.Snapshot.LatestGameweek = st.Snapshot.LatestGameweek
	stats.Snapshot.LastError = st.Error
	if !st.RefreshedAt.IsZero() {
		stats.Snapshot.RefreshedAt = st.RefreshedAt.UTC().Format(time.RFC3339)
		stats.Snapshot.RefreshedAgo = time.Since(st.RefreshedAt).Round(time.Second).String()
	}

	stats.Sources.Cognite = r.loader.sourceEnabled()
	stats.Sources.Cache = r.loader.cacheEnabled()
	stats.Sources.Mirror = r.deps.Mirror != nil
	if c, ok := r.deps.Completer.(interface{ Enabled() bool }); ok {
		stats.Sources.Assistants = c.Enabled()
	}
	stats.Sources.Settings = r.settingsManager != nil && r.settingsManager.IsEnabled()

	stats.LiveFeed = r.hub.Stats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.NumCPU = runtime.NumCPU()

	return stats
}
