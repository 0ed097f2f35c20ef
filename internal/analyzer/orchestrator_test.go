package analyzer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelwatch/modelwatch/internal/cache"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/types"
)

// memoryCache is an in-process ReportCache for orchestrator tests; it
// keeps the factory-or-cached contract without a shared store.
type memoryCache struct {
	stored       map[string][]byte
	factoryCalls int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{stored: map[string][]byte{}}
}

func (c *memoryCache) GetOrSetWithLock(ctx context.Context, key string, dest interface{}, factory cache.Factory, ttl time.Duration) error {
	if data, ok := c.stored[key]; ok {
		return json.Unmarshal(data, dest)
	}

	c.factoryCalls++
	value, err := factory(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.stored[key] = data
	return json.Unmarshal(data, dest)
}

type stubLimiter struct {
	allowed   bool
	remaining int
	resetIn   time.Duration
}

func (l *stubLimiter) Allow(ctx context.Context, identifier string) (bool, int) {
	return l.allowed, l.remaining
}

func (l *stubLimiter) ResetTime(ctx context.Context, identifier string) (time.Duration, error) {
	return l.resetIn, nil
}

type stubClient struct {
	response string
	err      error
	calls    int
}

func (c *stubClient) Generate(ctx context.Context, prompt string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func newTestOrchestrator(t *testing.T, client UpstreamClient, limiter RateLimiter, reportCache ReportCache) *Orchestrator {
	return NewOrchestrator(
		limiter,
		reportCache,
		client,
		NewRetrier(fastRetryConfig(4), newTestLogger(t), newTestMetrics()),
		NewFallbackEngine(types.DefaultThresholds()),
		5*time.Minute,
		newTestLogger(t),
		newTestMetrics(),
	)
}

func TestOrchestrator_UpstreamSuccess(t *testing.T) {
	client := &stubClient{response: validResponse}
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, newMemoryCache())

	current := sampleAggregate()
	report := orch.Analyze(context.Background(), current, nil)

	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceUpstream, report.Source)
	assert.Equal(t, current, report.MetricsAnalyzed)
	assert.Equal(t, 1, client.calls)
}

func TestOrchestrator_CachedReportSkipsUpstream(t *testing.T) {
	client := &stubClient{response: validResponse}
	memCache := newMemoryCache()
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, memCache)

	current := sampleAggregate()
	first := orch.Analyze(context.Background(), current, nil)
	second := orch.Analyze(context.Background(), current, nil)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, memCache.factoryCalls)
	assert.Equal(t, first.Summary, second.Summary)
	// The cached copy is re-stamped with the caller's snapshot
	assert.Equal(t, current, second.MetricsAnalyzed)
}

func TestOrchestrator_DifferentWindowsGetDifferentKeys(t *testing.T) {
	client := &stubClient{response: validResponse}
	memCache := newMemoryCache()
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, memCache)

	first := sampleAggregate()
	second := sampleAggregate()
	second.TotalPredictions = 500

	orch.Analyze(context.Background(), first, nil)
	orch.Analyze(context.Background(), second, nil)

	assert.Equal(t, 2, memCache.factoryCalls)
}

func TestOrchestrator_RateLimitDenied(t *testing.T) {
	client := &stubClient{response: validResponse}
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: false, resetIn: 30 * time.Second}, newMemoryCache())

	report := orch.Analyze(context.Background(), sampleAggregate(), nil)

	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceFallback, report.Source)
	assert.Contains(t, report.FallbackReason, "Rate limit exceeded")
	assert.Equal(t, 0, client.calls)
}

func TestOrchestrator_NilClientDegrades(t *testing.T) {
	orch := newTestOrchestrator(t, nil, &stubLimiter{allowed: true}, newMemoryCache())

	report := orch.Analyze(context.Background(), sampleAggregate(), nil)

	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceFallback, report.Source)
	assert.Contains(t, report.FallbackReason, "not configured")
}

func TestOrchestrator_ParseErrorDegrades(t *testing.T) {
	client := &stubClient{response: "definitely not json"}
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, newMemoryCache())

	report := orch.Analyze(context.Background(), sampleAggregate(), nil)

	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceFallback, report.Source)
	assert.Contains(t, report.FallbackReason, "Parse")
}

func TestOrchestrator_RetryExhaustionDegrades(t *testing.T) {
	client := &stubClient{err: errors.NewTransientUpstreamError("503")}
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, newMemoryCache())

	report := orch.Analyze(context.Background(), sampleAggregate(), nil)

	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceFallback, report.Source)
	assert.Contains(t, report.FallbackReason, "All retry attempts failed")
	assert.Equal(t, 4, client.calls)
}

func TestOrchestrator_FatalUpstreamDegradesWithoutRetry(t *testing.T) {
	client := &stubClient{err: errors.NewFatalUpstreamError("upstream quota exceeded (429)")}
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, newMemoryCache())

	report := orch.Analyze(context.Background(), sampleAggregate(), nil)

	assert.Equal(t, types.SourceFallback, report.Source)
	assert.Contains(t, report.FallbackReason, "rejected")
	assert.Equal(t, 1, client.calls)
}

func TestOrchestrator_FailedAnalysisNotCached(t *testing.T) {
	client := &stubClient{err: errors.NewFatalUpstreamError("400")}
	memCache := newMemoryCache()
	orch := newTestOrchestrator(t, client, &stubLimiter{allowed: true, remaining: 9}, memCache)

	orch.Analyze(context.Background(), sampleAggregate(), nil)

	assert.Empty(t, memCache.stored)
}

func TestDeriveCacheKey_FixedPrecision(t *testing.T) {
	orch := newTestOrchestrator(t, nil, &stubLimiter{allowed: true}, newMemoryCache())

	base := sampleAggregate()

	// Differences below the rounding precision collapse onto one key
	near := sampleAggregate()
	near.AverageConfidence = base.AverageConfidence + 0.001
	near.AverageInferenceTimeMs = base.AverageInferenceTimeMs + 0.01
	near.TimeWindowEnd = base.TimeWindowEnd.Add(10 * time.Second)
	assert.Equal(t, orch.deriveCacheKey(base, nil), orch.deriveCacheKey(near, nil))

	// Meaningful differences do not
	far := sampleAggregate()
	far.AverageConfidence = base.AverageConfidence + 0.1
	assert.NotEqual(t, orch.deriveCacheKey(base, nil), orch.deriveCacheKey(far, nil))

	// The previous window participates in the key
	prev := sampleAggregate()
	assert.NotEqual(t, orch.deriveCacheKey(base, nil), orch.deriveCacheKey(base, prev))
}
