package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across every route the
// gateway serves, labeled by the matched chi route pattern rather than the
// raw path so high-cardinality resource IDs don't blow up the metric.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "resourcegate",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// RequestsTotal counts every proxied resource request by its final decision
// (allowed/denied) and the reason a denial was issued (spec.md §4.4, §7).
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resourcegate",
		Subsystem: "requests",
		Name:      "total",
		Help:      "Total number of proxied resource requests by decision and reason.",
	},
	[]string{"resource_id", "decision", "reason"},
)

// RateLimitRejectionsTotal counts requests turned away by the fixed-window
// rate limiter (spec.md §4.4 step 4).
var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resourcegate",
		Subsystem: "policy",
		Name:      "rate_limit_rejections_total",
		Help:      "Total number of requests rejected by the rate limiter.",
	},
	[]string{"permission_id"},
)

// PolicyDenialsTotal counts every policy check rejection by its reason code,
// mirroring the gatewayerr code returned to the caller.
var PolicyDenialsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resourcegate",
		Subsystem: "policy",
		Name:      "denials_total",
		Help:      "Total number of policy check denials by reason.",
	},
	[]string{"reason"},
)

// VaultOperationsTotal counts vault Encrypt/Decrypt calls by outcome, the
// gateway's only signal that a secret's envelope has stopped decrypting.
var VaultOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resourcegate",
		Subsystem: "vault",
		Name:      "operations_total",
		Help:      "Total number of vault encrypt/decrypt operations by outcome.",
	},
	[]string{"operation", "outcome"},
)

// DecisionLogDroppedTotal counts decision log entries dropped because the
// async writer's buffer was full (internal/decisionlog.Writer.Log).
var DecisionLogDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "resourcegate",
		Subsystem: "decisionlog",
		Name:      "dropped_total",
		Help:      "Total number of decision log entries dropped due to a full buffer.",
	},
)

// All returns every gateway-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RateLimitRejectionsTotal,
		PolicyDenialsTotal,
		VaultOperationsTotal,
		DecisionLogDroppedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and every
// gateway-specific collector from All().
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
