package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheWritesTotal      *prometheus.CounterVec
	CacheLockAcquired     prometheus.Counter
	CacheLockTimeouts     prometheus.Counter
	CacheOperationSeconds *prometheus.HistogramVec

	// Rate limit metrics
	RateLimitAllowedTotal prometheus.Counter
	RateLimitDeniedTotal  prometheus.Counter
	RateLimitStoreErrors  prometheus.Counter

	// Upstream metrics
	UpstreamAttemptsTotal *prometheus.CounterVec
	UpstreamRetriesTotal  prometheus.Counter
	UpstreamDuration      prometheus.Histogram

	// Analysis metrics
	AnalysisReportsTotal *prometheus.CounterVec
	FallbackReportsTotal *prometheus.CounterVec
	AnalysisDuration     prometheus.Histogram
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "modelwatch",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	// Collectors are always constructed so callers never need nil checks;
	// disabling metrics just skips registration.
	ns := config.Namespace

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_hits_total",
				Help:      "Cache hits by lookup phase (fast or locked recheck)",
			},
			[]string{"phase"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_misses_total",
				Help:      "Cache misses by lookup phase",
			},
			[]string{"phase"},
		),
		CacheWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_writes_total",
				Help:      "Cache writes by result",
			},
			[]string{"result"},
		),
		CacheLockAcquired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_lock_acquired_total",
				Help:      "Distributed lock acquisitions",
			},
		),
		CacheLockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_lock_timeouts_total",
				Help:      "Lock-wait timeouts that degraded to an unprotected call",
			},
		),
		CacheOperationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RateLimitAllowedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "ratelimit_allowed_total",
				Help:      "Requests admitted by the sliding-window limiter",
			},
		),
		RateLimitDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "ratelimit_denied_total",
				Help:      "Requests denied by the sliding-window limiter",
			},
		),
		RateLimitStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "ratelimit_store_errors_total",
				Help:      "Limiter store failures that triggered the fail-open policy",
			},
		),

		UpstreamAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "upstream_attempts_total",
				Help:      "Upstream generation attempts by outcome",
			},
			[]string{"outcome"},
		),
		UpstreamRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "upstream_retries_total",
				Help:      "Upstream attempts beyond the first",
			},
		),
		UpstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		AnalysisReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "analysis_reports_total",
				Help:      "Analysis reports produced by source",
			},
			[]string{"source"},
		),
		FallbackReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "fallback_reports_total",
				Help:      "Fallback reports by error kind",
			},
			[]string{"kind"},
		),
		AnalysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "analysis_duration_seconds",
				Help:      "End-to-end analysis duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	if !config.Enabled {
		return m
	}

	registry := prometheus.NewRegistry()
	m.registry = registry
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheWritesTotal,
		m.CacheLockAcquired,
		m.CacheLockTimeouts,
		m.CacheOperationSeconds,
		m.RateLimitAllowedTotal,
		m.RateLimitDeniedTotal,
		m.RateLimitStoreErrors,
		m.UpstreamAttemptsTotal,
		m.UpstreamRetriesTotal,
		m.UpstreamDuration,
		m.AnalysisReportsTotal,
		m.FallbackReportsTotal,
		m.AnalysisDuration,
	)

	return m
}

// Enabled reports whether metrics collection is active
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() gin.HandlerFunc {
	if !m.Enabled() {
		return func(c *gin.Context) { c.Status(404) }
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// GinMiddleware records request counts and latencies
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
	}
}
