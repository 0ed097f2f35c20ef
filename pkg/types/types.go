package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentiment is a predicted sentiment label
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// IsValid checks if the sentiment is one of the allowed values
func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// MetricStatus represents the overall health of an aggregated window
type MetricStatus string

const (
	StatusNormal   MetricStatus = "normal"
	StatusWarning  MetricStatus = "warning"
	StatusCritical MetricStatus = "critical"
)

// ReportSource indicates which path produced an analysis report
type ReportSource string

const (
	SourceUpstream ReportSource = "upstream"
	SourceFallback ReportSource = "fallback"
)

// PredictionMetric holds the metrics of a single model prediction
type PredictionMetric struct {
	PredictionID    string    `json:"prediction_id" db:"prediction_id"`
	Sentiment       Sentiment `json:"sentiment" db:"sentiment"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	InferenceTimeMs float64   `json:"inference_time_ms" db:"inference_time_ms"`
	InputLength     int       `json:"input_length" db:"input_length"`
	Timestamp       time.Time `json:"timestamp" db:"created_at"`
	ModelVersion    string    `json:"model_version" db:"model_version"`
}

// Validate checks the metric against its domain constraints
func (p *PredictionMetric) Validate() error {
	if p.PredictionID == "" {
		return fmt.Errorf("prediction_id is required")
	}
	if !p.Sentiment.IsValid() {
		return fmt.Errorf("invalid sentiment: %s", p.Sentiment)
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0 and 1, got %f", p.Confidence)
	}
	if p.InferenceTimeMs <= 0 {
		return fmt.Errorf("inference_time_ms must be positive, got %f", p.InferenceTimeMs)
	}
	if p.InputLength < 1 || p.InputLength > 1000 {
		return fmt.Errorf("input_length must be between 1 and 1000, got %d", p.InputLength)
	}
	return ValidateModelVersion(p.ModelVersion)
}

// ValidateModelVersion checks semantic versioning format (X.Y.Z)
func ValidateModelVersion(version string) error {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return fmt.Errorf("model_version must be in format X.Y.Z, got %q", version)
	}
	for _, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			return fmt.Errorf("invalid model_version part: %q", part)
		}
	}
	return nil
}

// AggregatedMetrics summarizes predictions over a time window
type AggregatedMetrics struct {
	TotalPredictions       int               `json:"total_predictions"`
	AverageConfidence      float64           `json:"average_confidence"`
	AverageInferenceTimeMs float64           `json:"average_inference_time_ms"`
	MinInferenceTimeMs     float64           `json:"min_inference_time_ms"`
	MaxInferenceTimeMs     float64           `json:"max_inference_time_ms"`
	P95InferenceTimeMs     float64           `json:"p95_inference_time_ms,omitempty"`
	SentimentDistribution  map[Sentiment]int `json:"sentiment_distribution"`
	Status                 MetricStatus      `json:"status"`
	TimeWindowStart        time.Time         `json:"time_window_start"`
	TimeWindowEnd          time.Time         `json:"time_window_end"`
}

// MetricThresholds defines warning/critical levels for aggregated metrics.
// Critical thresholds must be stricter than warning thresholds.
type MetricThresholds struct {
	MinConfidenceWarning       float64 `json:"min_confidence_warning"`
	MinConfidenceCritical      float64 `json:"min_confidence_critical"`
	MaxInferenceTimeWarningMs  float64 `json:"max_inference_time_warning_ms"`
	MaxInferenceTimeCriticalMs float64 `json:"max_inference_time_critical_ms"`
}

// DefaultThresholds returns the default warning/critical thresholds
func DefaultThresholds() MetricThresholds {
	return MetricThresholds{
		MinConfidenceWarning:       0.6,
		MinConfidenceCritical:      0.4,
		MaxInferenceTimeWarningMs:  200.0,
		MaxInferenceTimeCriticalMs: 500.0,
	}
}

// Validate checks threshold ordering and ranges
func (t *MetricThresholds) Validate() error {
	if t.MinConfidenceWarning < 0 || t.MinConfidenceWarning > 1 {
		return fmt.Errorf("min_confidence_warning must be between 0 and 1")
	}
	if t.MinConfidenceCritical < 0 || t.MinConfidenceCritical > 1 {
		return fmt.Errorf("min_confidence_critical must be between 0 and 1")
	}
	if t.MinConfidenceCritical >= t.MinConfidenceWarning {
		return fmt.Errorf("critical confidence threshold (%.2f) must be lower than warning threshold (%.2f)",
			t.MinConfidenceCritical, t.MinConfidenceWarning)
	}
	if t.MaxInferenceTimeWarningMs <= 0 || t.MaxInferenceTimeCriticalMs <= 0 {
		return fmt.Errorf("latency thresholds must be positive")
	}
	if t.MaxInferenceTimeCriticalMs <= t.MaxInferenceTimeWarningMs {
		return fmt.Errorf("critical latency threshold (%.1fms) must be higher than warning threshold (%.1fms)",
			t.MaxInferenceTimeCriticalMs, t.MaxInferenceTimeWarningMs)
	}
	return nil
}

// StatusFor evaluates aggregated metrics against the thresholds
func (t *MetricThresholds) StatusFor(m *AggregatedMetrics) MetricStatus {
	if m.TotalPredictions == 0 {
		return StatusNormal
	}
	if m.AverageConfidence < t.MinConfidenceCritical ||
		m.AverageInferenceTimeMs > t.MaxInferenceTimeCriticalMs {
		return StatusCritical
	}
	if m.AverageConfidence < t.MinConfidenceWarning ||
		m.AverageInferenceTimeMs > t.MaxInferenceTimeWarningMs {
		return StatusWarning
	}
	return StatusNormal
}

// PerformanceIssue is a single problem identified by an analysis
type PerformanceIssue struct {
	IssueType   string    `json:"issue_type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// AnalysisReport is the result of analyzing a metrics window, produced
// either by the upstream generation API or by the rule-based fallback.
// Callers always receive this shape; degraded results differ only in
// Source, ConfidenceScore and FallbackReason.
type AnalysisReport struct {
	Summary             string             `json:"summary"`
	IdentifiedIssues    []PerformanceIssue `json:"identified_issues"`
	Recommendations     []string           `json:"recommendations"`
	RootCauseHypothesis string             `json:"root_cause_hypothesis"`
	ConfidenceScore     float64            `json:"confidence_score"`
	Source              ReportSource       `json:"source"`
	FallbackReason      string             `json:"fallback_reason,omitempty"`
	MetricsAnalyzed     *AggregatedMetrics `json:"metrics_analyzed,omitempty"`
	GeneratedAt         time.Time          `json:"generated_at"`
}

// Validate checks the report against its domain constraints
func (r *AnalysisReport) Validate() error {
	if r.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	if r.ConfidenceScore < 0.0 || r.ConfidenceScore > 1.0 {
		return fmt.Errorf("confidence_score must be between 0 and 1, got %f", r.ConfidenceScore)
	}
	if len(r.Recommendations) == 0 {
		return fmt.Errorf("at least one recommendation is required")
	}
	return nil
}

// ModelVersion represents a registered model version
type ModelVersion struct {
	ID        int64     `json:"id" db:"id"`
	Version   string    `json:"version" db:"version"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
