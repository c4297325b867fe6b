package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the trigger API and runners.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	postsSentTotal       *prometheus.CounterVec
	postsFailedTotal     *prometheus.CounterVec
	sendDuration         *prometheus.HistogramVec
	retriesScheduled     *prometheus.CounterVec
	stuckSweptTotal      prometheus.Counter
	reconciliationSynced *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "publish_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "publish_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		postsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "publish_engine",
				Name:      "posts_sent_total",
				Help:      "Total number of posts successfully handed to a backend.",
			},
			[]string{"backend"},
		),
		postsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "publish_engine",
				Name:      "posts_failed_total",
				Help:      "Total number of posts that ended a dispatch attempt in failed state.",
			},
			[]string{"backend", "reason"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "publish_engine",
				Name:      "send_duration_seconds",
				Help:      "Backend send duration in seconds grouped by backend.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"backend"},
		),
		retriesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "publish_engine",
				Name:      "retries_scheduled_total",
				Help:      "Total number of retries scheduled after failed sends.",
			},
			[]string{"backend"},
		),
		stuckSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "publish_engine",
				Name:      "stuck_posts_swept_total",
				Help:      "Total number of posts force-failed by the stuck sweep.",
			},
		),
		reconciliationSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "publish_engine",
				Name:      "reconciliation_synced_total",
				Help:      "Total number of posts reconciled from remote state by outcome.",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "publish_engine",
				Name:      "run_duration_seconds",
				Help:      "Runner invocation duration in seconds grouped by runner.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"runner"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.postsSentTotal,
		m.postsFailedTotal,
		m.sendDuration,
		m.retriesScheduled,
		m.stuckSweptTotal,
		m.reconciliationSynced,
		m.runDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncPostSent(backend string) {
	if m == nil {
		return
	}
	m.postsSentTotal.WithLabelValues(normalizeBackend(backend)).Inc()
}

func (m *Metrics) IncPostFailed(backend string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.postsFailedTotal.WithLabelValues(normalizeBackend(backend), reasonLabel).Inc()
}

func (m *Metrics) ObserveSendDuration(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeBackend(backend)).Observe(seconds)
}

func (m *Metrics) IncRetryScheduled(backend string) {
	if m == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(normalizeBackend(backend)).Inc()
}

func (m *Metrics) IncStuckSwept() {
	if m == nil {
		return
	}
	m.stuckSweptTotal.Inc()
}

func (m *Metrics) IncReconciliationSynced(outcome string) {
	if m == nil {
		return
	}
	outcomeLabel := strings.TrimSpace(strings.ToLower(outcome))
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}
	m.reconciliationSynced.WithLabelValues(outcomeLabel).Inc()
}

func (m *Metrics) ObserveRunDuration(runner string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.runDuration.WithLabelValues(strings.ToLower(strings.TrimSpace(runner))).Observe(seconds)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func normalizeBackend(backend string) string {
	normalized := strings.TrimSpace(strings.ToLower(backend))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}
	return c.Response().StatusCode()
}
