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

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	jobsSubmittedTotal      *prometheus.CounterVec
	jobsCompletedTotal      *prometheus.CounterVec
	jobsFailedTotal         *prometheus.CounterVec
	deliveryAttemptDuration *prometheus.HistogramVec
	workerInflight          *prometheus.GaugeVec
	retryScheduledTotal     *prometheus.CounterVec
	deadLetteredTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_submitted_total",
				Help:      "Total number of jobs accepted for delivery.",
			},
			[]string{"type"},
		),
		jobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs delivered successfully.",
			},
			[]string{"type"},
		),
		jobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_failed_total",
				Help:      "Total number of jobs that ended in failed state.",
			},
			[]string{"type", "reason"},
		),
		deliveryAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "delivery_attempt_duration_seconds",
				Help:      "Outbound transport call duration in seconds grouped by job type.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notify_engine",
				Name:      "worker_inflight",
				Help:      "Delivery attempts currently executing per job type.",
			},
			[]string{"type"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "retries_scheduled_total",
				Help:      "Total number of delayed redeliveries scheduled.",
			},
			[]string{"type"},
		),
		deadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "dead_lettered_total",
				Help:      "Total number of jobs moved to the dead-letter queue.",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsSubmittedTotal,
		m.jobsCompletedTotal,
		m.jobsFailedTotal,
		m.deliveryAttemptDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.deadLetteredTotal,
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

func (m *Metrics) IncJobSubmitted(jobType string) {
	if m == nil {
		return
	}
	m.jobsSubmittedTotal.WithLabelValues(normalizeType(jobType)).Inc()
}

func (m *Metrics) IncJobCompleted(jobType string) {
	if m == nil {
		return
	}
	m.jobsCompletedTotal.WithLabelValues(normalizeType(jobType)).Inc()
}

func (m *Metrics) IncJobFailed(jobType string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.jobsFailedTotal.WithLabelValues(normalizeType(jobType), reasonLabel).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(jobType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryAttemptDuration.WithLabelValues(normalizeType(jobType)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(jobType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeType(jobType)).Inc()
}

func (m *Metrics) DecWorkerInFlight(jobType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeType(jobType)).Dec()
}

func (m *Metrics) IncRetryScheduled(jobType string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeType(jobType)).Inc()
}

func (m *Metrics) IncDeadLettered(jobType string) {
	if m == nil {
		return
	}
	m.deadLetteredTotal.WithLabelValues(normalizeType(jobType)).Inc()
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

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeType(jobType string) string {
	normalized := strings.ToLower(strings.TrimSpace(jobType))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
