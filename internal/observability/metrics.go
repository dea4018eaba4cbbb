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

// Metrics stores Prometheus collectors used by the API, the notifier and the
// outbox relay. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	transitionsTotal      *prometheus.CounterVec
	transitionsRejected   *prometheus.CounterVec
	commsSentTotal        *prometheus.CounterVec
	commsFailedTotal      *prometheus.CounterVec
	commSendDuration      *prometheus.HistogramVec
	notificationsSkipped  *prometheus.CounterVec
	eventHandlersInflight *prometheus.GaugeVec
	outboxRelayedTotal    *prometheus.CounterVec
}

const namespace = "sirius_dispatch"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_transitions_total",
				Help:      "Committed dispatch status changes by source and target status.",
			},
			[]string{"from", "to"},
		),
		transitionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_transitions_rejected_total",
				Help:      "Refused dispatch status changes by target status and reason.",
			},
			[]string{"to", "reason"},
		),
		commsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comms_sent_total",
				Help:      "Outbound communications accepted by a channel.",
			},
			[]string{"medium"},
		),
		commsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comms_failed_total",
				Help:      "Outbound communications that could not be sent.",
			},
			[]string{"medium", "reason"},
		),
		commSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "comm_send_duration_seconds",
				Help:      "Channel send duration in seconds grouped by medium.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"medium"},
		),
		notificationsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_skipped_total",
				Help:      "Status-changed events the notifier chose not to act on.",
			},
			[]string{"reason"},
		),
		eventHandlersInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_handlers_inflight",
				Help:      "Event handler invocations currently running.",
			},
			[]string{"event"},
		),
		outboxRelayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_relayed_total",
				Help:      "Outbox events republished by the relay grouped by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.transitionsTotal,
		m.transitionsRejected,
		m.commsSentTotal,
		m.commsFailedTotal,
		m.commSendDuration,
		m.notificationsSkipped,
		m.eventHandlersInflight,
		m.outboxRelayedTotal,
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
	if m == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

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

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *Metrics) IncTransitionRejected(to, reason string) {
	if m == nil {
		return
	}
	m.transitionsRejected.WithLabelValues(normalizeLabel(to), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncCommSent(medium string) {
	if m == nil {
		return
	}
	m.commsSentTotal.WithLabelValues(normalizeLabel(medium)).Inc()
}

func (m *Metrics) IncCommFailed(medium string, reason string) {
	if m == nil {
		return
	}
	m.commsFailedTotal.WithLabelValues(normalizeLabel(medium), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveCommSendDuration(medium string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.commSendDuration.WithLabelValues(normalizeLabel(medium)).Observe(seconds)
}

func (m *Metrics) IncNotificationSkipped(reason string) {
	if m == nil {
		return
	}
	m.notificationsSkipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncHandlerInFlight(event string) {
	if m == nil {
		return
	}
	m.eventHandlersInflight.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) DecHandlerInFlight(event string) {
	if m == nil {
		return
	}
	m.eventHandlersInflight.WithLabelValues(normalizeLabel(event)).Dec()
}

func (m *Metrics) IncOutboxRelayed(result string) {
	if m == nil {
		return
	}
	m.outboxRelayedTotal.WithLabelValues(normalizeLabel(result)).Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
