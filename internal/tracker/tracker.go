package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelwatch/modelwatch/internal/redisstore"
	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
	"github.com/modelwatch/modelwatch/pkg/types"
)

// minSamplesForP95 is the sample count below which P95 is not reported;
// a percentile over a handful of points is noise.
const minSamplesForP95 = 20

// Tracker records per-prediction metrics in a shared sorted set scored
// by timestamp and aggregates them over time windows. Every instance
// behind a load balancer sees the same data.
type Tracker struct {
	store   *redisstore.Client
	config  *config.TrackerConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	thresholds types.MetricThresholds
}

// NewTracker creates a prediction metric tracker
func NewTracker(store *redisstore.Client, cfg *config.TrackerConfig, logger *logging.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:      store,
		config:     cfg,
		logger:     logger,
		metrics:    m,
		thresholds: cfg.Thresholds,
	}
}

func (t *Tracker) key() string {
	return fmt.Sprintf("%s:predictions", t.config.KeyPrefix)
}

// Record stores a single prediction metric and trims entries older than
// the retention period.
func (t *Tracker) Record(ctx context.Context, metric *types.PredictionMetric) error {
	if err := metric.Validate(); err != nil {
		return errors.NewValidationError(err.Error())
	}

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(metric)
	if err != nil {
		return errors.NewInternalError("failed to encode prediction metric").WithCause(err)
	}

	key := t.key()
	now := time.Now()
	if err := t.store.ZAdd(ctx, key, redis.Z{
		Score:  float64(metric.Timestamp.UnixMilli()),
		Member: string(payload),
	}); err != nil {
		return err
	}

	// Trim outside the retention horizon and keep the key itself from
	// outliving an idle deployment.
	horizon := now.Add(-t.config.Retention).UnixMilli()
	if err := t.store.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", horizon)); err != nil {
		t.logger.WithError(err).Warn("Failed to trim prediction history")
	}
	if err := t.store.Expire(ctx, key, t.config.Retention+time.Hour); err != nil {
		t.logger.WithError(err).Warn("Failed to refresh prediction history TTL")
	}

	t.logger.Debug("Prediction metric recorded",
		"prediction_id", metric.PredictionID,
		"sentiment", string(metric.Sentiment),
		"confidence", metric.Confidence,
	)
	return nil
}

// Aggregate summarizes the most recent window ending now
func (t *Tracker) Aggregate(ctx context.Context, window time.Duration) (*types.AggregatedMetrics, error) {
	end := time.Now().UTC()
	return t.AggregateRange(ctx, end.Add(-window), end)
}

// PreviousWindow summarizes the window immediately before the current
// one, for trend comparison.
func (t *Tracker) PreviousWindow(ctx context.Context, window time.Duration) (*types.AggregatedMetrics, error) {
	end := time.Now().UTC().Add(-window)
	return t.AggregateRange(ctx, end.Add(-window), end)
}

// AggregateRange summarizes predictions recorded inside [start, end].
// An empty range yields a zero-count normal-status aggregate, never an
// error.
func (t *Tracker) AggregateRange(ctx context.Context, start, end time.Time) (*types.AggregatedMetrics, error) {
	entries, err := t.store.ZRangeByScoreWithScores(ctx, t.key(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", start.UnixMilli()),
		Max: fmt.Sprintf("%d", end.UnixMilli()),
	})
	if err != nil {
		return nil, err
	}

	agg := &types.AggregatedMetrics{
		SentimentDistribution: map[types.Sentiment]int{},
		Status:                types.StatusNormal,
		TimeWindowStart:       start,
		TimeWindowEnd:         end,
	}
	if len(entries) == 0 {
		return agg, nil
	}

	var (
		confidenceSum float64
		latencySum    float64
		latencies     = make([]float64, 0, len(entries))
	)

	for _, entry := range entries {
		raw, ok := entry.Member.(string)
		if !ok {
			continue
		}
		var m types.PredictionMetric
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			// Corrupt entries are skipped, not fatal
			t.logger.WithError(err).Warn("Skipping undecodable prediction entry")
			continue
		}

		agg.TotalPredictions++
		confidenceSum += m.Confidence
		latencySum += m.InferenceTimeMs
		latencies = append(latencies, m.InferenceTimeMs)
		agg.SentimentDistribution[m.Sentiment]++
	}

	if agg.TotalPredictions == 0 {
		return agg, nil
	}

	agg.AverageConfidence = confidenceSum / float64(agg.TotalPredictions)
	agg.AverageInferenceTimeMs = latencySum / float64(agg.TotalPredictions)

	sort.Float64s(latencies)
	agg.MinInferenceTimeMs = latencies[0]
	agg.MaxInferenceTimeMs = latencies[len(latencies)-1]
	if len(latencies) >= minSamplesForP95 {
		agg.P95InferenceTimeMs = percentile(latencies, 0.95)
	}

	thresholds := t.Thresholds()
	agg.Status = thresholds.StatusFor(agg)

	return agg, nil
}

// Count returns the number of retained prediction entries
func (t *Tracker) Count(ctx context.Context) (int64, error) {
	return t.store.ZCard(ctx, t.key())
}

// Reset drops all retained prediction history
func (t *Tracker) Reset(ctx context.Context) error {
	_, err := t.store.Del(ctx, t.key())
	return err
}

// Thresholds returns the current evaluation thresholds
func (t *Tracker) Thresholds() types.MetricThresholds {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thresholds
}

// UpdateThresholds replaces the evaluation thresholds after validation.
// Callers are responsible for invalidating any cached analyses that were
// computed under the old thresholds.
func (t *Tracker) UpdateThresholds(thresholds types.MetricThresholds) error {
	if err := thresholds.Validate(); err != nil {
		return errors.NewValidationError(err.Error())
	}

	t.mu.Lock()
	t.thresholds = thresholds
	t.mu.Unlock()

	t.logger.Info("Metric thresholds updated",
		"confidence_warning", thresholds.MinConfidenceWarning,
		"confidence_critical", thresholds.MinConfidenceCritical,
		"latency_warning_ms", thresholds.MaxInferenceTimeWarningMs,
		"latency_critical_ms", thresholds.MaxInferenceTimeCriticalMs,
	)
	return nil
}

// percentile computes the p-th percentile of sorted values using
// nearest-rank interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
