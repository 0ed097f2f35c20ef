package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetric() *PredictionMetric {
	return &PredictionMetric{
		PredictionID:    "pred-1",
		Sentiment:       SentimentPositive,
		Confidence:      0.92,
		InferenceTimeMs: 45.2,
		InputLength:     120,
		Timestamp:       time.Now().UTC(),
		ModelVersion:    "1.2.0",
	}
}

func TestPredictionMetric_Validate(t *testing.T) {
	assert.NoError(t, validMetric().Validate())

	tests := []struct {
		name   string
		mutate func(*PredictionMetric)
	}{
		{"missing id", func(m *PredictionMetric) { m.PredictionID = "" }},
		{"bad sentiment", func(m *PredictionMetric) { m.Sentiment = "angry" }},
		{"confidence too high", func(m *PredictionMetric) { m.Confidence = 1.5 }},
		{"confidence negative", func(m *PredictionMetric) { m.Confidence = -0.1 }},
		{"zero latency", func(m *PredictionMetric) { m.InferenceTimeMs = 0 }},
		{"input too long", func(m *PredictionMetric) { m.InputLength = 1001 }},
		{"input empty", func(m *PredictionMetric) { m.InputLength = 0 }},
		{"bad version", func(m *PredictionMetric) { m.ModelVersion = "v1" }},
		{"non-numeric version", func(m *PredictionMetric) { m.ModelVersion = "1.a.0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMetric()
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestValidateModelVersion(t *testing.T) {
	assert.NoError(t, ValidateModelVersion("1.0.0"))
	assert.NoError(t, ValidateModelVersion("10.22.333"))
	assert.Error(t, ValidateModelVersion("1.0"))
	assert.Error(t, ValidateModelVersion("1.0.0.0"))
	assert.Error(t, ValidateModelVersion(""))
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()
	require.NoError(t, th.Validate())
	assert.Equal(t, 0.6, th.MinConfidenceWarning)
	assert.Equal(t, 0.4, th.MinConfidenceCritical)
	assert.Equal(t, 200.0, th.MaxInferenceTimeWarningMs)
	assert.Equal(t, 500.0, th.MaxInferenceTimeCriticalMs)
}

func TestMetricThresholds_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MetricThresholds)
	}{
		{"critical confidence above warning", func(th *MetricThresholds) { th.MinConfidenceCritical = 0.7 }},
		{"critical latency below warning", func(th *MetricThresholds) { th.MaxInferenceTimeCriticalMs = 100 }},
		{"confidence out of range", func(th *MetricThresholds) { th.MinConfidenceWarning = 1.5 }},
		{"zero latency threshold", func(th *MetricThresholds) { th.MaxInferenceTimeWarningMs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.mutate(&th)
			assert.Error(t, th.Validate())
		})
	}
}

func TestMetricThresholds_StatusFor(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		metrics AggregatedMetrics
		want    MetricStatus
	}{
		{"empty window", AggregatedMetrics{}, StatusNormal},
		{"healthy", AggregatedMetrics{TotalPredictions: 10, AverageConfidence: 0.9, AverageInferenceTimeMs: 50}, StatusNormal},
		{"low confidence warning", AggregatedMetrics{TotalPredictions: 10, AverageConfidence: 0.5, AverageInferenceTimeMs: 50}, StatusWarning},
		{"low confidence critical", AggregatedMetrics{TotalPredictions: 10, AverageConfidence: 0.3, AverageInferenceTimeMs: 50}, StatusCritical},
		{"high latency warning", AggregatedMetrics{TotalPredictions: 10, AverageConfidence: 0.9, AverageInferenceTimeMs: 250}, StatusWarning},
		{"high latency critical", AggregatedMetrics{TotalPredictions: 10, AverageConfidence: 0.9, AverageInferenceTimeMs: 600}, StatusCritical},
		{"critical wins over warning", AggregatedMetrics{TotalPredictions: 10, AverageConfidence: 0.5, AverageInferenceTimeMs: 600}, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.StatusFor(&tt.metrics))
		})
	}
}

func TestAnalysisReport_Validate(t *testing.T) {
	report := &AnalysisReport{
		Summary:         "all good",
		ConfidenceScore: 0.8,
		Recommendations: []string{"keep going"},
	}
	assert.NoError(t, report.Validate())

	t.Run("missing summary", func(t *testing.T) {
		r := *report
		r.Summary = ""
		assert.Error(t, r.Validate())
	})
	t.Run("confidence out of range", func(t *testing.T) {
		r := *report
		r.ConfidenceScore = 1.2
		assert.Error(t, r.Validate())
	})
	t.Run("no recommendations", func(t *testing.T) {
		r := *report
		r.Recommendations = nil
		assert.Error(t, r.Validate())
	})
}

func TestSentiment_IsValid(t *testing.T) {
	assert.True(t, SentimentPositive.IsValid())
	assert.True(t, SentimentNegative.IsValid())
	assert.True(t, SentimentNeutral.IsValid())
	assert.False(t, Sentiment("angry").IsValid())
}
