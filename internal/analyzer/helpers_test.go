package analyzer

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
	"github.com/modelwatch/modelwatch/pkg/types"
)

func newTestLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:       "error",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "modelwatch-test",
		Version:     "test",
	})
	require.NoError(t, err)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(&metrics.Config{Namespace: "test", Enabled: false})
}

func sampleAggregate() *types.AggregatedMetrics {
	end := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return &types.AggregatedMetrics{
		TotalPredictions:       120,
		AverageConfidence:      0.82,
		AverageInferenceTimeMs: 63.5,
		MinInferenceTimeMs:     12.1,
		MaxInferenceTimeMs:     210.4,
		P95InferenceTimeMs:     110.0,
		SentimentDistribution: map[types.Sentiment]int{
			types.SentimentPositive: 70,
			types.SentimentNegative: 30,
			types.SentimentNeutral:  20,
		},
		Status:          types.StatusNormal,
		TimeWindowStart: end.Add(-time.Hour),
		TimeWindowEnd:   end,
	}
}
