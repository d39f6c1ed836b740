package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds the service's Prometheus metrics on a private registry.
type MetricsRegistry struct {
	registry *prometheus.Registry

	RefreshDuration *prometheus.HistogramVec
	Refreshes       *prometheus.CounterVec
	BetsLoaded      prometheus.Gauge
	LatestGameweek  prometheus.Gauge
	TeamDiff        prometheus.Gauge

	AssistantRequests *prometheus.CounterVec
	ReportsSent       prometheus.Counter
	WSClients         prometheus.Gauge
}

func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tippelaget_refresh_duration_seconds",
				Help:    "Duration of a snapshot refresh in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tippelaget_refreshes_total",
				Help: "Snapshot refreshes by result",
			},
			[]string{"result"},
		),
		BetsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tippelaget_bets_loaded",
			Help: "Bets in the current snapshot",
		}),
		LatestGameweek: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tippelaget_latest_gameweek",
			Help: "Highest gameweek number seen",
		}),
		TeamDiff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tippelaget_team_diff_nok",
			Help: "Team cumulative payout minus cumulative stake",
		}),
		AssistantRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tippelaget_assistant_requests_total",
				Help: "Assistant questions by persona and result",
			},
			[]string{"persona", "result"},
		),
		ReportsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tippelaget_reports_sent_total",
			Help: "Gameweek reports sent to chat channels",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tippelaget_ws_clients",
			Help: "Connected live feed clients",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RefreshDuration,
		m.Refreshes,
		m.BetsLoaded,
		m.LatestGameweek,
		m.TeamDiff,
		m.AssistantRequests,
		m.ReportsSent,
		m.WSClients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsRegistry) ObserveRefresh(source string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Refreshes.WithLabelValues(result).Inc()
	if err == nil {
		m.RefreshDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

func (m *MetricsRegistry) ObserveAssistant(persona string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.AssistantRequests.WithLabelValues(persona, result).Inc()
}
