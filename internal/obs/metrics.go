package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Guard pipeline outcomes by guard and result code.",
		},
		[]string{"guard", "outcome"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Requests rejected by the fixed-window limiter.",
		},
		[]string{"key"},
	)

	rateLimitStoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_store_errors_total",
		Help: "Counter store failures that let the request through.",
	})

	securityAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_alerts_total",
			Help: "Security alerts raised by the reputation engine.",
		},
		[]string{"type", "severity"},
	)

	auditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit log persistence failures.",
		},
		[]string{"fail_closed"},
	)

	guardHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guard_handler_duration_seconds",
			Help:    "Latency of guarded handlers in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"guard"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	edgeThrottleClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edge_throttle_clients",
		Help: "Client addresses currently tracked by the edge throttle.",
	})

	registerOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			guardDecisions,
			rateLimitRejections,
			rateLimitStoreErrors,
			securityAlerts,
			auditWriteFailures,
			guardHandlerDuration,
			httpRequestsTotal,
			httpRequestDuration,
			edgeThrottleClients,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EdgeClients records how many client buckets the edge throttle holds.
func EdgeClients(n int) {
	edgeThrottleClients.Set(float64(n))
}

// GuardDecision counts one pipeline outcome.
func GuardDecision(guard, outcome string) {
	guardDecisions.WithLabelValues(guard, outcome).Inc()
}

// ObserveHandler records handler latency for a guard.
func ObserveHandler(guard string, d time.Duration) {
	guardHandlerDuration.WithLabelValues(guard).Observe(d.Seconds())
}

// RateLimitRejected counts a limiter rejection.
func RateLimitRejected(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// RateLimitStoreError counts a fail-open limiter store error.
func RateLimitStoreError() {
	rateLimitStoreErrors.Inc()
}

// SecurityAlert counts a raised alert.
func SecurityAlert(alertType, severity string) {
	securityAlerts.WithLabelValues(alertType, severity).Inc()
}

// AuditWriteFailed counts an audit persistence failure.
func AuditWriteFailed(failClosed bool) {
	auditWriteFailures.WithLabelValues(strconv.FormatBool(failClosed)).Inc()
}

// Instrument records request counts and latency per matched route.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
