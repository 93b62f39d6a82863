package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's Prometheus collectors. All methods are nil-safe:
// calls on a nil *Metrics are no-ops.
type Metrics struct {
	Allocations     *prometheus.CounterVec
	Reconciles      *prometheus.CounterVec
	Releases        *prometheus.CounterVec
	PoolExhausted   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	Evictions       prometheus.Counter
	Broadcasts      prometheus.Counter
	AuthFailures    *prometheus.CounterVec
	UsageReports    *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	OperationTiming *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "senweaver"
	}
	m := &Metrics{
		Allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "allocations_total",
			Help:      "Allocation attempts by provider and outcome (allocated, reused, exhausted, error).",
		}, []string{"provider", "outcome"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "reconciles_total",
			Help:      "Reconcile attempts by provider and outcome (bound, adopted, rejected, error).",
		}, []string{"provider", "outcome"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "releases_total",
			Help:      "Allocations closed by provider.",
		}, []string{"provider"}),
		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "exhausted_total",
			Help:      "Times a provider had no pool with free capacity.",
		}, []string{"provider"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "online",
			Help:      "Sessions currently online.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "evicted_total",
			Help:      "Sessions closed because the identity connected elsewhere.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "heartbeat_broadcasts_total",
			Help:      "Server heartbeat broadcasts sent.",
		}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Signature verification failures by purpose.",
		}, []string{"purpose"}),
		UsageReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "reports_total",
			Help:      "Model usage reports by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		OperationTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of instrumented operations by component and operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"component", "operation", "result"}),
	}

	if reg != nil {
		m.Allocations = registerOrReuse(reg, m.Allocations).(*prometheus.CounterVec)
		m.Reconciles = registerOrReuse(reg, m.Reconciles).(*prometheus.CounterVec)
		m.Releases = registerOrReuse(reg, m.Releases).(*prometheus.CounterVec)
		m.PoolExhausted = registerOrReuse(reg, m.PoolExhausted).(*prometheus.CounterVec)
		m.ActiveSessions = registerOrReuse(reg, m.ActiveSessions).(prometheus.Gauge)
		m.Evictions = registerOrReuse(reg, m.Evictions).(prometheus.Counter)
		m.Broadcasts = registerOrReuse(reg, m.Broadcasts).(prometheus.Counter)
		m.AuthFailures = registerOrReuse(reg, m.AuthFailures).(*prometheus.CounterVec)
		m.UsageReports = registerOrReuse(reg, m.UsageReports).(*prometheus.CounterVec)
		m.HTTPRequests = registerOrReuse(reg, m.HTTPRequests).(*prometheus.CounterVec)
		m.HTTPDuration = registerOrReuse(reg, m.HTTPDuration).(*prometheus.HistogramVec)
		m.OperationTiming = registerOrReuse(reg, m.OperationTiming).(*prometheus.HistogramVec)
	}
	return m
}

// registerOrReuse returns the already registered collector on restart.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) RecordAllocation(provider, outcome string) {
	if m == nil {
		return
	}
	m.Allocations.WithLabelValues(provider, outcome).Inc()
	if outcome == "exhausted" {
		m.PoolExhausted.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) RecordReconcile(provider, outcome string) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordRelease(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Releases.WithLabelValues(provider).Add(float64(n))
}

func (m *Metrics) SetOnlineSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

func (m *Metrics) RecordAuthFailure(purpose string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(purpose).Inc()
}

func (m *Metrics) RecordUsageReport(outcome string) {
	if m == nil {
		return
	}
	m.UsageReports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHTTP(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) observeOperation(component, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationTiming.WithLabelValues(component, operation, result).Observe(elapsed.Seconds())
}
