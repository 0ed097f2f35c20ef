package tracker

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelwatch/modelwatch/internal/redisstore"
	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
	"github.com/modelwatch/modelwatch/pkg/types"
)

func setupTestTracker(t *testing.T, cfg *config.TrackerConfig) *Tracker {
	store, err := redisstore.NewClient(&config.RedisConfig{
		Host:     "localhost",
		Port:     6379,
		DB:       1, // separate DB for tests
		PoolSize: 5,
	})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.FlushDB(context.Background()))

	if cfg == nil {
		cfg = &config.TrackerConfig{
			KeyPrefix:  "test:metrics",
			Retention:  24 * time.Hour,
			Thresholds: types.DefaultThresholds(),
		}
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level: "error", Format: "text", Output: "stdout",
	})
	require.NoError(t, err)
	logger.SetOutput(io.Discard)

	return NewTracker(store, cfg, logger,
		metrics.NewMetrics(&metrics.Config{Namespace: "test", Enabled: false}))
}

func metric(id string, sentiment types.Sentiment, confidence, latency float64) *types.PredictionMetric {
	return &types.PredictionMetric{
		PredictionID:    id,
		Sentiment:       sentiment,
		Confidence:      confidence,
		InferenceTimeMs: latency,
		InputLength:     100,
		ModelVersion:    "1.0.0",
	}
}

func TestTracker_RecordValidates(t *testing.T) {
	tracker := setupTestTracker(t, nil)

	bad := metric("p1", "angry", 0.9, 50)
	err := tracker.Record(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	count, err := tracker.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTracker_RecordStampsTimestamp(t *testing.T) {
	tracker := setupTestTracker(t, nil)

	m := metric("p1", types.SentimentPositive, 0.9, 50)
	require.True(t, m.Timestamp.IsZero())

	require.NoError(t, tracker.Record(context.Background(), m))
	assert.False(t, m.Timestamp.IsZero())
}

func TestTracker_Aggregate(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, metric("p1", types.SentimentPositive, 0.9, 40)))
	require.NoError(t, tracker.Record(ctx, metric("p2", types.SentimentPositive, 0.8, 60)))
	require.NoError(t, tracker.Record(ctx, metric("p3", types.SentimentNegative, 0.7, 100)))

	agg, err := tracker.Aggregate(ctx, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3, agg.TotalPredictions)
	assert.InDelta(t, 0.8, agg.AverageConfidence, 0.0001)
	assert.InDelta(t, 66.666, agg.AverageInferenceTimeMs, 0.01)
	assert.Equal(t, 40.0, agg.MinInferenceTimeMs)
	assert.Equal(t, 100.0, agg.MaxInferenceTimeMs)
	assert.Equal(t, 2, agg.SentimentDistribution[types.SentimentPositive])
	assert.Equal(t, 1, agg.SentimentDistribution[types.SentimentNegative])
	assert.Equal(t, types.StatusNormal, agg.Status)
	// Too few samples for a meaningful percentile
	assert.Equal(t, 0.0, agg.P95InferenceTimeMs)
}

func TestTracker_AggregateEmptyWindow(t *testing.T) {
	tracker := setupTestTracker(t, nil)

	agg, err := tracker.Aggregate(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 0, agg.TotalPredictions)
	assert.Equal(t, types.StatusNormal, agg.Status)
	assert.NotNil(t, agg.SentimentDistribution)
}

func TestTracker_AggregateComputesP95WithEnoughSamples(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		m := metric(fmt.Sprintf("p%d", i), types.SentimentNeutral, 0.9, float64(i*10))
		require.NoError(t, tracker.Record(ctx, m))
	}

	agg, err := tracker.Aggregate(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 20, agg.TotalPredictions)
	assert.Greater(t, agg.P95InferenceTimeMs, 180.0)
	assert.LessOrEqual(t, agg.P95InferenceTimeMs, 200.0)
}

func TestTracker_AggregateStatusReflectsThresholds(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, metric("p1", types.SentimentPositive, 0.3, 50)))

	agg, err := tracker.Aggregate(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCritical, agg.Status)
}

func TestTracker_WindowExcludesOlderEntries(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	old := metric("p-old", types.SentimentPositive, 0.9, 50)
	old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, tracker.Record(ctx, old))

	fresh := metric("p-new", types.SentimentNegative, 0.7, 80)
	require.NoError(t, tracker.Record(ctx, fresh))

	agg, err := tracker.Aggregate(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalPredictions)
	assert.Equal(t, 1, agg.SentimentDistribution[types.SentimentNegative])
}

func TestTracker_PreviousWindow(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	previous := metric("p-prev", types.SentimentPositive, 0.9, 50)
	previous.Timestamp = time.Now().UTC().Add(-90 * time.Minute)
	require.NoError(t, tracker.Record(ctx, previous))
	require.NoError(t, tracker.Record(ctx, metric("p-cur", types.SentimentNegative, 0.7, 80)))

	prev, err := tracker.PreviousWindow(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, prev.TotalPredictions)
	assert.Equal(t, 1, prev.SentimentDistribution[types.SentimentPositive])
}

func TestTracker_RetentionTrimsOldEntries(t *testing.T) {
	cfg := &config.TrackerConfig{
		KeyPrefix:  "test:metrics",
		Retention:  time.Hour,
		Thresholds: types.DefaultThresholds(),
	}
	tracker := setupTestTracker(t, cfg)
	ctx := context.Background()

	stale := metric("p-stale", types.SentimentPositive, 0.9, 50)
	stale.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, tracker.Record(ctx, stale))

	// The next record trims everything past the retention horizon
	require.NoError(t, tracker.Record(ctx, metric("p-new", types.SentimentNeutral, 0.8, 60)))

	count, err := tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTracker_Reset(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, metric("p1", types.SentimentPositive, 0.9, 50)))
	require.NoError(t, tracker.Reset(ctx))

	count, err := tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTracker_UpdateThresholds(t *testing.T) {
	tracker := setupTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, metric("p1", types.SentimentPositive, 0.65, 50)))

	agg, err := tracker.Aggregate(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, agg.Status)

	// Tighten the warning threshold above the observed confidence
	require.NoError(t, tracker.UpdateThresholds(types.MetricThresholds{
		MinConfidenceWarning:       0.8,
		MinConfidenceCritical:      0.4,
		MaxInferenceTimeWarningMs:  200,
		MaxInferenceTimeCriticalMs: 500,
	}))

	agg, err = tracker.Aggregate(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWarning, agg.Status)
}

func TestTracker_UpdateThresholdsValidates(t *testing.T) {
	tracker := setupTestTracker(t, nil)

	err := tracker.UpdateThresholds(types.MetricThresholds{
		MinConfidenceWarning:       0.4,
		MinConfidenceCritical:      0.6, // inverted
		MaxInferenceTimeWarningMs:  200,
		MaxInferenceTimeCriticalMs: 500,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.95))
	assert.Equal(t, 5.0, percentile([]float64{5}, 0.95))

	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.InDelta(t, 95.5, percentile(sorted, 0.95), 0.001)
	assert.InDelta(t, 55.0, percentile(sorted, 0.5), 0.001)
	assert.Equal(t, 100.0, percentile(sorted, 1.0))
}
