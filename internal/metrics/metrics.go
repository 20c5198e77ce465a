package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Inbound metrics
	InboundEventsTotal *prometheus.CounterVec
	HandlerRunsTotal   *prometheus.CounterVec
	QueuedTasks        prometheus.Gauge

	// Processing service metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Delivery metrics
	DeliveriesTotal *prometheus.CounterVec

	// Selection metrics
	SelectionResolutionsTotal *prometheus.CounterVec

	// Health monitor metrics
	HealthChecksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		InboundEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_inbound_events_total",
				Help: "Inbound chat events by dispatch outcome",
			},
			[]string{"outcome"},
		),
		HandlerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_handler_runs_total",
				Help: "Dispatcher handler invocations by handler and status",
			},
			[]string{"handler", "status"},
		),
		QueuedTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_queued_tasks",
				Help: "Inbound events waiting for a worker",
			},
		),

		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_backend_requests_total",
				Help: "Signed requests to the processing service by path and status",
			},
			[]string{"path", "status"},
		),
		BackendRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_backend_request_duration_seconds",
				Help:    "Duration of processing service requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_total",
				Help: "Outbound delivery operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		SelectionResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_selection_resolutions_total",
				Help: "Numeric selection attempts by result",
			},
			[]string{"result"},
		),

		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_health_checks_total",
				Help: "Health monitor runs by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.InboundEventsTotal)
	m.registry.MustRegister(m.HandlerRunsTotal)
	m.registry.MustRegister(m.QueuedTasks)
	m.registry.MustRegister(m.BackendRequestsTotal)
	m.registry.MustRegister(m.BackendRequestDuration)
	m.registry.MustRegister(m.DeliveriesTotal)
	m.registry.MustRegister(m.SelectionResolutionsTotal)
	m.registry.MustRegister(m.HealthChecksTotal)
}

// RecordInbound counts one dispatched event.
func (m *Metrics) RecordInbound(outcome string) {
	if m == nil {
		return
	}
	m.InboundEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordHandler counts one handler invocation.
func (m *Metrics) RecordHandler(handler, status string) {
	if m == nil {
		return
	}
	m.HandlerRunsTotal.WithLabelValues(handler, status).Inc()
}

// SetQueued sets the number of queued inbound tasks.
func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.QueuedTasks.Set(float64(n))
}

// RecordBackend records one processing service request.
func (m *Metrics) RecordBackend(path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(path, status).Inc()
	m.BackendRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordDelivery counts one outbound delivery operation.
func (m *Metrics) RecordDelivery(operation, status string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(operation, status).Inc()
}

// RecordSelection counts one numeric selection attempt.
func (m *Metrics) RecordSelection(result string) {
	if m == nil {
		return
	}
	m.SelectionResolutionsTotal.WithLabelValues(result).Inc()
}

// RecordHealthCheck counts one health monitor run.
func (m *Metrics) RecordHealthCheck(outcome string) {
	if m == nil {
		return
	}
	m.HealthChecksTotal.WithLabelValues(outcome).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
