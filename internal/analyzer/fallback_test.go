package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelwatch/modelwatch/pkg/types"
)

func TestFallbackEngine_HealthyMetrics(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	report := engine.Build(sampleAggregate(), "upstream unavailable")

	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceFallback, report.Source)
	assert.Equal(t, 0.3, report.ConfidenceScore)
	assert.Equal(t, "upstream unavailable", report.FallbackReason)
	assert.Contains(t, report.RootCauseHypothesis, "upstream unavailable")
	assert.Empty(t, report.IdentifiedIssues)
	assert.Equal(t, []string{"Collect more data"}, report.Recommendations)
}

func TestFallbackEngine_LowConfidence(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	metrics := sampleAggregate()
	metrics.AverageConfidence = 0.55

	report := engine.Build(metrics, "timeout")
	require.Len(t, report.IdentifiedIssues, 1)
	assert.Equal(t, "low_confidence", report.IdentifiedIssues[0].IssueType)
	assert.Equal(t, "high", report.IdentifiedIssues[0].Severity)
	assert.Contains(t, report.Recommendations, "Consider retraining the model")
}

func TestFallbackEngine_CriticalConfidence(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	metrics := sampleAggregate()
	metrics.AverageConfidence = 0.3

	report := engine.Build(metrics, "timeout")
	require.Len(t, report.IdentifiedIssues, 1)
	assert.Equal(t, "critical", report.IdentifiedIssues[0].Severity)
}

func TestFallbackEngine_HighLatency(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	metrics := sampleAggregate()
	metrics.AverageInferenceTimeMs = 250

	report := engine.Build(metrics, "timeout")
	require.Len(t, report.IdentifiedIssues, 1)
	assert.Equal(t, "high_latency", report.IdentifiedIssues[0].IssueType)
	assert.Equal(t, "medium", report.IdentifiedIssues[0].Severity)
	assert.Contains(t, report.Recommendations, "Check server resources and inference batch sizes")

	metrics.AverageInferenceTimeMs = 600
	report = engine.Build(metrics, "timeout")
	require.Len(t, report.IdentifiedIssues, 1)
	assert.Equal(t, "high", report.IdentifiedIssues[0].Severity)
}

func TestFallbackEngine_CombinedIssues(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	metrics := sampleAggregate()
	metrics.AverageConfidence = 0.5
	metrics.AverageInferenceTimeMs = 300

	report := engine.Build(metrics, "timeout")
	assert.Len(t, report.IdentifiedIssues, 2)
	assert.Len(t, report.Recommendations, 2)
}

func TestFallbackEngine_InsufficientData(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	metrics := sampleAggregate()
	metrics.TotalPredictions = 3

	report := engine.Build(metrics, "timeout")
	require.NoError(t, report.Validate())
	assert.Contains(t, report.Summary, "Insufficient data")
	assert.Contains(t, report.Summary, "3 predictions")
}

func TestFallbackEngine_NilMetrics(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	report := engine.Build(nil, "store down")
	require.NoError(t, report.Validate())
	assert.Equal(t, types.SourceFallback, report.Source)
	assert.NotNil(t, report.MetricsAnalyzed)
	assert.Empty(t, report.IdentifiedIssues)
}

func TestFallbackEngine_SetThresholds(t *testing.T) {
	engine := NewFallbackEngine(types.DefaultThresholds())

	metrics := sampleAggregate()
	metrics.AverageConfidence = 0.82

	report := engine.Build(metrics, "timeout")
	assert.Empty(t, report.IdentifiedIssues)

	// Raise the bar above the observed confidence
	engine.SetThresholds(types.MetricThresholds{
		MinConfidenceWarning:       0.9,
		MinConfidenceCritical:      0.5,
		MaxInferenceTimeWarningMs:  200,
		MaxInferenceTimeCriticalMs: 500,
	})

	report = engine.Build(metrics, "timeout")
	require.Len(t, report.IdentifiedIssues, 1)
	assert.Equal(t, "low_confidence", report.IdentifiedIssues[0].IssueType)
}
