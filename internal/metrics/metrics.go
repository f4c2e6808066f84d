package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Payment verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	SettlesTotal         *prometheus.CounterVec

	// Chain RPC metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Upstream dispatch metrics
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamDuration      *prometheus.HistogramVec
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerBufferDepth  prometheus.Gauge
	LedgerDropsTotal   prometheus.Counter
	LedgerFlushesTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec

	// Retention metrics
	CleanupRunsTotal      prometheus.Counter
	CleanupRecordsDeleted prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_verifications_total",
				Help: "Total payment verification attempts by network and outcome",
			},
			[]string{"network", "outcome"},
		),
		VerificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_verification_duration_seconds",
				Help:    "Time taken to verify a payment proof",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"network"},
		),
		SettlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_settles_total",
				Help: "Total settlement attempts by network and status",
			},
			[]string{"network", "status"},
		),

		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_rpc_calls_total",
				Help: "Total number of chain RPC calls",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_rpc_errors_total",
				Help: "Total number of chain RPC errors",
			},
			[]string{"method", "network", "error_type"},
		),

		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_upstream_requests_total",
				Help: "Total proxied upstream requests by service and status class",
			},
			[]string{"service", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_upstream_duration_seconds",
				Help:    "Upstream round-trip latency by service",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service"},
		),
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_cache_hits_total",
				Help: "Upstream responses served from cache",
			},
			[]string{"service"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_cache_misses_total",
				Help: "Upstream cache lookups that missed",
			},
			[]string{"service"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"tier"},
		),

		LedgerBufferDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tollgate_ledger_buffer_depth",
				Help: "Entries waiting in the async request log buffer",
			},
		),
		LedgerDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_ledger_drops_total",
				Help: "Request log entries dropped because the buffer was full",
			},
		),
		LedgerFlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_ledger_flushes_total",
				Help: "Request log batch flushes by status",
			},
			[]string{"status"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_db_query_duration_seconds",
				Help:    "Ledger query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),

		CleanupRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_cleanup_runs_total",
				Help: "Total retention cleanup runs",
			},
		),
		CleanupRecordsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_cleanup_records_deleted_total",
				Help: "Total request log rows deleted by retention cleanup",
			},
		),
	}
}

// ObserveVerification records a verification attempt. outcome is
// "verified" or a rejection reason.
func (m *Metrics) ObserveVerification(network, outcome string, duration time.Duration) {
	m.VerificationsTotal.WithLabelValues(network, outcome).Inc()
	m.VerificationDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveSettle records a settlement attempt.
func (m *Metrics) ObserveSettle(network string, success bool) {
	status := "failed"
	if success {
		status = "ok"
	}
	m.SettlesTotal.WithLabelValues(network, status).Inc()
}

// ObserveRPCCall records a chain RPC call.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "other"
		switch errStr := err.Error(); {
		case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
			errorType = "timeout"
		case strings.Contains(errStr, "rate limit"):
			errorType = "rate_limit"
		case strings.Contains(errStr, "connection"):
			errorType = "connection"
		case strings.Contains(errStr, "not found"):
			errorType = "not_found"
		}
		m.RPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveUpstream records a proxied upstream round trip. The status label
// is collapsed to its class (2xx, 4xx, 5xx) to bound cardinality.
func (m *Metrics) ObserveUpstream(service string, status int, duration time.Duration) {
	m.UpstreamRequestsTotal.WithLabelValues(service, statusClass(status)).Inc()
	m.UpstreamDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveCache records a cache lookup outcome for a service.
func (m *Metrics) ObserveCache(service string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(service).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(service).Inc()
	}
}

// ObserveRateLimit records a rate limit rejection.
func (m *Metrics) ObserveRateLimit(tier string) {
	m.RateLimitHitsTotal.WithLabelValues(tier).Inc()
}

// ObserveLedgerFlush records one batch flush of the request log.
func (m *Metrics) ObserveLedgerFlush(ok bool) {
	status := "failed"
	if ok {
		status = "ok"
	}
	m.LedgerFlushesTotal.WithLabelValues(status).Inc()
}

// ObserveDBQuery records a ledger query.
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCleanup records a retention cleanup run.
func (m *Metrics) ObserveCleanup(recordsDeleted int64) {
	m.CleanupRunsTotal.Inc()
	m.CleanupRecordsDeleted.Add(float64(recordsDeleted))
}

// MeasureDBQuery wraps a ledger operation with timing instrumentation.
// Safe on a nil receiver so the ledger can run without metrics in tests.
func MeasureDBQuery(m *Metrics, operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, time.Since(start))
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
