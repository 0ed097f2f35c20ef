package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modelwatch/modelwatch/internal/cache"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
	"github.com/modelwatch/modelwatch/pkg/types"
)

// GlobalIdentifier is the rate-limit identifier shared by all instances:
// the upstream quota is global, so admission is too.
const GlobalIdentifier = "global"

// RateLimiter is the admission control the orchestrator consults before
// any upstream call.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string) (allowed bool, remaining int)
	ResetTime(ctx context.Context, identifier string) (time.Duration, error)
}

// ReportCache collapses concurrent misses for one key into a single
// factory invocation.
type ReportCache interface {
	GetOrSetWithLock(ctx context.Context, key string, dest interface{}, factory cache.Factory, ttl time.Duration) error
}

// Orchestrator composes the cache, rate limiter, upstream client, parser
// and fallback engine into one analyze operation with a single failure
// boundary: every factory error becomes a fallback report, none escape
// to the caller.
//
// All dependencies are constructed once at bootstrap and passed in by
// reference; there is no lazy initialization.
type Orchestrator struct {
	limiter  RateLimiter
	cache    ReportCache
	client   UpstreamClient
	retrier  *Retrier
	prompts  *PromptBuilder
	parser   *Parser
	fallback *FallbackEngine
	cacheTTL time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator wires the analysis pipeline. client may be nil when no
// API key is configured; every analysis then degrades to fallback.
func NewOrchestrator(
	limiter RateLimiter,
	reportCache ReportCache,
	client UpstreamClient,
	retrier *Retrier,
	fallback *FallbackEngine,
	cacheTTL time.Duration,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		limiter:  limiter,
		cache:    reportCache,
		client:   client,
		retrier:  retrier,
		prompts:  NewPromptBuilder(),
		parser:   NewParser(),
		fallback: fallback,
		cacheTTL: cacheTTL,
		logger:   logger,
		metrics:  m,
	}
}

// Analyze produces an analysis report for the current metrics window,
// optionally comparing against the previous one. The caller always gets
// a well-formed report: degraded results are distinguishable only by
// source=fallback, low confidence and the embedded reason.
func (o *Orchestrator) Analyze(ctx context.Context, current, previous *types.AggregatedMetrics) *types.AnalysisReport {
	start := time.Now()
	defer func() {
		o.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	}()

	if o.client == nil {
		return o.degrade(ctx, current, errors.NewFatalUpstreamError("upstream API key not configured"))
	}

	cacheKey := o.deriveCacheKey(current, previous)

	factory := func(fctx context.Context) (interface{}, error) {
		return o.fetchUpstream(fctx, current, previous)
	}

	var report types.AnalysisReport
	if err := o.cache.GetOrSetWithLock(ctx, cacheKey, &report, factory, o.cacheTTL); err != nil {
		// Single failure boundary: rate-limit denial, retry exhaustion,
		// fatal upstream errors, parse failures and anything unclassified
		// all convert to a fallback report here.
		return o.degrade(ctx, current, err)
	}

	// A cached report may carry the snapshot of whoever populated it;
	// re-stamp with the true current input.
	report.MetricsAnalyzed = current

	o.metrics.AnalysisReportsTotal.WithLabelValues(string(report.Source)).Inc()
	o.logger.LogAnalysisEvent(ctx, "report_ready", logrus.Fields{
		"source":    report.Source,
		"cache_key": cacheKey,
	})
	return &report
}

// fetchUpstream is the factory body: admission check, retried upstream
// call, parse. It runs under the cache lock on the protected path.
func (o *Orchestrator) fetchUpstream(ctx context.Context, current, previous *types.AggregatedMetrics) (*types.AnalysisReport, error) {
	allowed, remaining := o.limiter.Allow(ctx, GlobalIdentifier)
	if !allowed {
		resetIn, err := o.limiter.ResetTime(ctx, GlobalIdentifier)
		if err != nil {
			resetIn = 0
		}
		return nil, errors.NewRateLimitError(
			fmt.Sprintf("global rate limit exceeded, retry in %ds", int(resetIn.Seconds()))).
			WithDetail("reset_in", resetIn.String())
	}

	o.logger.Debug("Rate limit check passed", "remaining", remaining)

	prompt := o.prompts.BuildAnalysisPrompt(current, previous)

	responseText, err := o.retrier.Execute(ctx, func(rctx context.Context) (string, error) {
		return o.client.Generate(rctx, prompt)
	})
	if err != nil {
		return nil, err
	}

	return o.parser.Parse(responseText, current)
}

// degrade converts a failure into a fallback report and records it
func (o *Orchestrator) degrade(ctx context.Context, current *types.AggregatedMetrics, cause error) *types.AnalysisReport {
	kind := errors.GetKind(cause)
	reason := fallbackReason(cause, kind)

	o.metrics.FallbackReportsTotal.WithLabelValues(string(kind)).Inc()
	o.metrics.AnalysisReportsTotal.WithLabelValues(string(types.SourceFallback)).Inc()
	o.logger.LogAnalysisEvent(ctx, "fallback", logrus.Fields{
		"kind":   kind,
		"reason": reason,
	})

	return o.fallback.Build(current, reason)
}

// fallbackReason renders a short operator-readable reason per error kind
func fallbackReason(err error, kind errors.Kind) string {
	switch kind {
	case errors.KindRetryExhausted:
		return fmt.Sprintf("All retry attempts failed: %v", err)
	case errors.KindFatalUpstream:
		return fmt.Sprintf("Upstream rejected the request: %v", err)
	case errors.KindParse:
		return fmt.Sprintf("Parse error: %v", err)
	case errors.KindRateLimit:
		return fmt.Sprintf("Rate limit exceeded: %v", err)
	case errors.KindStoreUnavailable:
		return fmt.Sprintf("Shared store unavailable: %v", err)
	default:
		return fmt.Sprintf("Unexpected error: %v", err)
	}
}

// deriveCacheKey hashes the semantically relevant inputs at fixed
// precision (2-decimal confidence, 1-decimal latency, minute-granularity
// window end) so near-identical requests share one cache entry.
func (o *Orchestrator) deriveCacheKey(current, previous *types.AggregatedMetrics) string {
	prevTotal := 0
	if previous != nil {
		prevTotal = previous.TotalPredictions
	}

	return cache.HashKey(map[string]interface{}{
		"total":      current.TotalPredictions,
		"confidence": fmt.Sprintf("%.2f", current.AverageConfidence),
		"latency":    fmt.Sprintf("%.1f", current.AverageInferenceTimeMs),
		"time":       current.TimeWindowEnd.UTC().Format("2006-01-02T15:04"),
		"prev_total": prevTotal,
	})
}
