// Package metrics exposes the bridge's Prometheus registry, grounded on
// services/gateway/internal/metrics/metrics.go's promauto.Factory pattern:
// every metric is created once through a Registry and handed out as a typed
// field, never looked up by name at the call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the bridge exports at /metrics.
type Registry struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	BackendStatus    *prometheus.GaugeVec
	BackendFailures  *prometheus.CounterVec
	FrontendsActive  prometheus.Gauge
	ListChangedTotal *prometheus.CounterVec
}

// New registers every metric against reg and returns the typed handles.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated from the
// global default registry.
func New(reg *prometheus.Registry) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Name:      "requests_total",
			Help:      "Total MCP requests routed by method and backend server.",
		}, []string{"server", "method"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpbridge",
			Name:      "request_duration_seconds",
			Help:      "Duration of MCP requests forwarded to a backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "method"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Name:      "errors_total",
			Help:      "Total errors returned to frontends, by synthetic error kind.",
		}, []string{"server", "kind"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Name:      "retries_total",
			Help:      "Total single-retry resilience attempts against outbound backends.",
		}, []string{"server"}),

		BackendStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpbridge",
			Name:      "backend_status",
			Help:      "Managed backend status as a one-hot gauge (1 for the current status, 0 otherwise).",
		}, []string{"server", "status"}),

		BackendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Name:      "backend_failures_total",
			Help:      "Total connect/handshake/health-check failures per backend.",
		}, []string{"server"}),

		FrontendsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpbridge",
			Name:      "frontends_active",
			Help:      "Number of currently attached frontend sessions.",
		}),

		ListChangedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpbridge",
			Name:      "list_changed_total",
			Help:      "Total list_changed notifications fanned out to frontends, by capability kind.",
		}, []string{"kind"}),
	}
}

// statusKinds lists every backend.Status value so SetBackendStatus can zero
// out the ones that are no longer current, keeping BackendStatus a clean
// one-hot gauge per server.
var statusKinds = []string{"disabled", "connecting", "connected", "failed", "disconnected"}

// SetBackendStatus updates the one-hot BackendStatus gauge for server.
func (r *Registry) SetBackendStatus(server, status string) {
	for _, kind := range statusKinds {
		value := 0.0
		if kind == status {
			value = 1.0
		}

		r.BackendStatus.WithLabelValues(server, kind).Set(value)
	}
}

// IncBackendFailures increments the failure counter for server.
func (r *Registry) IncBackendFailures(server string) {
	r.BackendFailures.WithLabelValues(server).Inc()
}

// ObserveRequest records one completed request's duration and increments
// its counter.
func (r *Registry) ObserveRequest(server, method string, seconds float64) {
	r.RequestsTotal.WithLabelValues(server, method).Inc()
	r.RequestDuration.WithLabelValues(server, method).Observe(seconds)
}

// IncError increments the error counter for a synthetic error kind.
func (r *Registry) IncError(server, kind string) {
	r.ErrorsTotal.WithLabelValues(server, kind).Inc()
}

// IncRetry increments the resilience-retry counter for server.
func (r *Registry) IncRetry(server string) {
	r.RetriesTotal.WithLabelValues(server).Inc()
}

// IncListChanged increments the list-changed fan-out counter for kind
// ("tools", "resources", "prompts").
func (r *Registry) IncListChanged(kind string) {
	r.ListChangedTotal.WithLabelValues(kind).Inc()
}
