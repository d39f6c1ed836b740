package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tippelaget/clients/cognite"
	"tippelaget/clients/openai"
	"tippelaget/config"
	"tippelaget/internal/bets"
	"tippelaget/internal/breakers"
	"tippelaget/internal/mcptools"
	"tippelaget/internal/metrics"
	"tippelaget/internal/store"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WebSocket upgrader for the live feed
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startServer binds the port before returning so configuration errors
// surface at startup.
func (r *Runner) startServer(cfg *config.Config) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}

	r.server = &http.Server{
		Handler:      r.Handler(cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Handler builds the HTTP routes: health, stats, metrics, the JSON API, the
// live feed, the MCP endpoint, settings and the dashboard.
func (r *Runner) Handler(cfg *config.Config) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(r.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"Link", "Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.GetStats())
	})
	router.Handle("/metrics", r.metrics.Handler())
	router.Get("/ws", r.serveWS)

	var tools *mcptools.Server
	if cfg.MCP.Enabled {
		tools = mcptools.New(r.logger, r, BuildCommit)
		router.Handle(cfg.MCP.Path, tools.Handler())
	}

	admin := func(h http.HandlerFunc) http.Handler {
		return adminOnly(func() string { return r.liveConfig.Get().Server.AdminToken }, h)
	}

	apiTimeout := cfg.Server.WriteTimeout
	if apiTimeout <= 0 {
		apiTimeout = config.Defaults().Server.WriteTimeout
	}

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(chimiddleware.Timeout(apiTimeout))

		api.Get("/snapshot", r.handleSnapshot)
		api.Get("/tables", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"tables": metrics.TableNames})
		})
		api.Get("/tables/{name}", r.handleTable)
		api.Get("/bets", r.handleBets)

		if tools != nil {
			api.Get("/tools", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"tools": tools.Tools()})
			})
		}

		api.Get("/assistants", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"personas": r.Personas()})
		})
		api.Post("/assistants/{persona}", r.handleAsk)

		api.Method(http.MethodPost, "/refresh", admin(r.handleRefresh))
		api.Method(http.MethodPost, "/sync", admin(r.handleSync))
		api.Method(http.MethodPost, "/report", admin(r.handleReport))

		api.Method(http.MethodPost, "/workflow/run", admin(r.handleWorkflowRun))
		api.Get("/workflow/executions/{id}", r.handleWorkflowStatus)

		api.Get("/deposits", r.handleListDeposits)
		api.Method(http.MethodPost, "/deposits", admin(r.handleAddDeposit))
	})

	if r.settingsManager != nil {
		NewSettingsHandler(r.logger, r.settingsManager).RegisterRoutes(router)
	}

	router.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(dashboardHTML))
	})

	return router
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("http request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(req.Context())),
			)
		})
	}
}

func (r *Runner) serveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, r.hub, r.logger)
	r.hub.Register(client)

	// The request context ends when the handler returns, so pumps get their own.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		client.WritePump(ctx)
		cancel()
	}()
	go client.ReadPump(ctx)
}

func (r *Runner) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	st := r.State()
	if !st.Ready {
		if err := st.Err(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot not ready yet"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *Runner) handleTable(w http.ResponseWriter, req *http.Request) {
	st := r.State()
	if !st.Ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot not ready yet"})
		return
	}

	name := chi.URLParam(req, "name")
	table, ok := st.Snapshot.Table(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown table: " + name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         name,
		"generated_at": st.Snapshot.GeneratedAt,
		"rows":         table,
	})
}

// handleBets lists normalized bets, optionally for one player.
func (r *Runner) handleBets(w http.ResponseWriter, req *http.Request) {
	st := r.State()
	player := strings.TrimSpace(req.URL.Query().Get("player"))

	out := make([]bets.Bet, 0, len(st.Bets))
	for _, b := range st.Bets {
		if player == "" || strings.EqualFold(b.Player, player) {
			out = append(out, b)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "bets": out})
}

type askRequest struct {
	Question string `json:"question"`
}

func (r *Runner) handleAsk(w http.ResponseWriter, req *http.Request) {
	persona := chi.URLParam(req, "persona")
	if _, ok := r.Assistant().Persona(persona); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown persona: " + persona})
		return
	}

	var body askRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	// Completion failures stay inline in the answer.
	writeJSON(w, http.StatusOK, r.Ask(req.Context(), persona, body.Question))
}

func (r *Runner) handleRefresh(w http.ResponseWriter, req *http.Request) {
	r.loader.InvalidateCache(req.Context())
	st, err := r.Refresh(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":          st.Source,
		"bet_count":       st.Snapshot.BetCount,
		"latest_gameweek": st.Snapshot.LatestGameweek,
		"refreshed_at":    st.RefreshedAt,
	})
}

func (r *Runner) handleSync(w http.ResponseWriter, req *http.Request) {
	n, err := r.loader.Sync(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	r.TriggerRefresh()
	writeJSON(w, http.StatusOK, map[string]int{"mirrored": n})
}

func (r *Runner) handleReport(w http.ResponseWriter, _ *http.Request) {
	gw, err := r.SendReport()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"gameweek": gw})
}

func (r *Runner) handleWorkflowRun(w http.ResponseWriter, req *http.Request) {
	exec, err := r.RunWorkflow(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (r *Runner) handleWorkflowStatus(w http.ResponseWriter, req *http.Request) {
	exec, err := r.WorkflowStatus(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (r *Runner) handleListDeposits(w http.ResponseWriter, req *http.Request) {
	schedule, err := r.ListDeposits(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

type depositRequest struct {
	Date   string          `json:"date"` // YYYY-MM-DD
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

func (r *Runner) handleAddDeposit(w http.ResponseWriter, req *http.Request) {
	var body depositRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	date, err := time.Parse(time.DateOnly, body.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}
	if !body.Amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}

	id, err := r.AddDeposit(req.Context(), store.DepositRow{Date: date, Amount: body.Amount, Note: body.Note})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// statusFor maps domain errors to 422, missing configuration to 503 and
// everything else, which comes from an upstream, to 502.
func statusFor(err error) int {
	var (
		malformed  *bets.MalformedGameweekError
		record     *bets.RecordError
		unmappable *metrics.UnmappableDepositError
		undefined  *metrics.UndefinedRatioError
		invalid    *config.ConfigValidationError
	)
	switch {
	case errors.As(err, &malformed), errors.As(err, &record),
		errors.As(err, &unmappable), errors.As(err, &undefined), errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cognite.ErrNotConfigured), errors.Is(err, openai.ErrNotConfigured),
		errors.Is(err, ErrNoSource), errors.Is(err, ErrNoDepositStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, breakers.ErrOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
