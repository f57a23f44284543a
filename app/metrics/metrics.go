package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/epg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xtream_catalog"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	portalRequests        *prometheus.CounterVec
	portalRequestDuration *prometheus.HistogramVec
	syncRuns              *prometheus.CounterVec
	syncDuration          prometheus.Histogram
	epgRefreshes          *prometheus.CounterVec
	resolveMatches        *prometheus.CounterVec
	tasks                 *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		portalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portal_requests_total",
			Help:      "Portal requests by action and HTTP status (0 when no response arrived).",
		}, []string{"action", "status"}),
		portalRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "portal_request_duration_seconds",
			Help:      "Portal request latency by action.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Full catalog syncs by profile and result.",
		}, []string{"profile", "result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of full catalog syncs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		epgRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epg_refreshes_total",
			Help:      "EPG refresh checks by profile and result (refreshed, fresh, error).",
		}, []string{"profile", "result"}),
		resolveMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epg_resolve_matches_total",
			Help:      "Live items resolved to EPG channels by match method.",
		}, []string{"method"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Background tasks by type and result.",
		}, []string{"type", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.portalRequests,
		m.portalRequestDuration,
		m.syncRuns,
		m.syncDuration,
		m.epgRefreshes,
		m.resolveMatches,
		m.tasks,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePortalRequest matches xtream.RequestObserver.
func (m *Metrics) ObservePortalRequest(action string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.portalRequests.WithLabelValues(action, strconv.Itoa(status)).Inc()
	m.portalRequestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Metrics) ObserveSync(profileID string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(profileID, result(err)).Inc()
	if err == nil {
		m.syncDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) ObserveEpgRefresh(profileID string, refreshed bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.epgRefreshes.WithLabelValues(profileID, "error").Inc()
	case refreshed:
		m.epgRefreshes.WithLabelValues(profileID, "refreshed").Inc()
	default:
		m.epgRefreshes.WithLabelValues(profileID, "fresh").Inc()
	}
}

func (m *Metrics) ObserveResolve(report epg.ResolveReport) {
	if m == nil {
		return
	}
	for method, n := range report.Counts {
		m.resolveMatches.WithLabelValues(string(method)).Add(float64(n))
	}
}

func (m *Metrics) ObserveTask(taskType string, err error) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(taskType, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
