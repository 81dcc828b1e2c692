package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bracket_engine"

// Metrics groups the collectors of the service. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	BracketsBuilt        *prometheus.CounterVec
	MatchesCompleted     prometheus.Counter
	Advancements         prometheus.Counter
	AdvancementConflicts prometheus.Counter
	RoundsMaterialized   prometheus.Counter
	ChampionsRecorded    prometheus.Counter
	ReconcilePasses      *prometheus.CounterVec
	ReconcileDuration    prometheus.Histogram
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		BracketsBuilt: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "brackets_built_total",
			Help:      "Brackets generated, by seeding policy and generation mode.",
		}, []string{"policy", "mode"}),
		MatchesCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_completed_total",
			Help:      "Match completions committed, byes included.",
		}),
		Advancements: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advancements_total",
			Help:      "Winners written into a downstream slot.",
		}),
		AdvancementConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advancement_conflicts_total",
			Help:      "Advancements rejected because the target slot held another entrant.",
		}),
		RoundsMaterialized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_materialized_total",
			Help:      "Rounds created by reconciliation.",
		}),
		ChampionsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "champions_recorded_total",
			Help:      "Tournaments finished with a recorded champion.",
		}),
		ReconcilePasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes over a tournament, by result.",
		}, []string{"result"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of a full reconciliation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) BracketBuilt(policy, mode string) {
	if m == nil {
		return
	}
	m.BracketsBuilt.WithLabelValues(policy, mode).Inc()
}

func (m *Metrics) MatchCompleted(advanced bool) {
	if m == nil {
		return
	}
	m.MatchesCompleted.Inc()
	if advanced {
		m.Advancements.Inc()
	}
}

func (m *Metrics) Advanced() {
	if m == nil {
		return
	}
	m.Advancements.Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.AdvancementConflicts.Inc()
}

func (m *Metrics) RoundMaterialized() {
	if m == nil {
		return
	}
	m.RoundsMaterialized.Inc()
}

func (m *Metrics) ChampionRecorded() {
	if m == nil {
		return
	}
	m.ChampionsRecorded.Inc()
}

func (m *Metrics) ReconcilePass(result string) {
	if m == nil {
		return
	}
	m.ReconcilePasses.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
