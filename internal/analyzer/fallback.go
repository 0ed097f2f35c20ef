package analyzer

import (
	"fmt"
	"sync"
	"time"

	"github.com/modelwatch/modelwatch/pkg/types"
)

// fallbackConfidence is the fixed confidence of rule-based reports
const fallbackConfidence = 0.3

// minDataPoints is the sample size below which the fallback reports
// insufficient data instead of computed findings
const minDataPoints = 5

// FallbackEngine produces deterministic rule-based reports when the
// upstream path cannot complete. It is the last line of defense: pure,
// no external calls, and it never fails — even with zero input data it
// returns a well-formed report.
type FallbackEngine struct {
	mu         sync.RWMutex
	thresholds types.MetricThresholds
}

// NewFallbackEngine creates a fallback engine with the given thresholds
func NewFallbackEngine(thresholds types.MetricThresholds) *FallbackEngine {
	return &FallbackEngine{thresholds: thresholds}
}

// SetThresholds replaces the rule thresholds. Safe to call while reports
// are being built.
func (e *FallbackEngine) SetThresholds(thresholds types.MetricThresholds) {
	e.mu.Lock()
	e.thresholds = thresholds
	e.mu.Unlock()
}

func (e *FallbackEngine) currentThresholds() types.MetricThresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// Build creates a rule-based report for the metrics window, embedding
// the reason the upstream path failed.
func (e *FallbackEngine) Build(metrics *types.AggregatedMetrics, errorReason string) *types.AnalysisReport {
	if metrics == nil {
		metrics = &types.AggregatedMetrics{
			SentimentDistribution: map[types.Sentiment]int{},
			Status:                types.StatusNormal,
		}
	}

	now := time.Now().UTC()
	issues := e.detectIssues(metrics, now)
	recommendations := e.recommendations(issues)

	return &types.AnalysisReport{
		Summary:             e.summary(metrics, issues, errorReason),
		IdentifiedIssues:    issues,
		Recommendations:     recommendations,
		RootCauseHypothesis: fmt.Sprintf("Automated rule-based analysis (fallback). Reason: %s", errorReason),
		ConfidenceScore:     fallbackConfidence,
		Source:              types.SourceFallback,
		FallbackReason:      errorReason,
		MetricsAnalyzed:     metrics,
		GeneratedAt:         now,
	}
}

func (e *FallbackEngine) detectIssues(m *types.AggregatedMetrics, now time.Time) []types.PerformanceIssue {
	issues := []types.PerformanceIssue{}
	if m.TotalPredictions == 0 {
		return issues
	}

	thresholds := e.currentThresholds()

	if m.AverageConfidence < thresholds.MinConfidenceWarning {
		severity := "high"
		if m.AverageConfidence < thresholds.MinConfidenceCritical {
			severity = "critical"
		}
		issues = append(issues, types.PerformanceIssue{
			IssueType:   "low_confidence",
			Severity:    severity,
			Description: fmt.Sprintf("Average confidence score is low: %.2f", m.AverageConfidence),
			DetectedAt:  now,
		})
	}

	if m.AverageInferenceTimeMs > thresholds.MaxInferenceTimeWarningMs {
		severity := "medium"
		if m.AverageInferenceTimeMs > thresholds.MaxInferenceTimeCriticalMs {
			severity = "high"
		}
		issues = append(issues, types.PerformanceIssue{
			IssueType:   "high_latency",
			Severity:    severity,
			Description: fmt.Sprintf("Average latency is high: %.2fms", m.AverageInferenceTimeMs),
			DetectedAt:  now,
		})
	}

	return issues
}

func (e *FallbackEngine) recommendations(issues []types.PerformanceIssue) []string {
	recommendations := []string{}
	for _, issue := range issues {
		switch issue.IssueType {
		case "low_confidence":
			recommendations = append(recommendations, "Consider retraining the model")
		case "high_latency":
			recommendations = append(recommendations, "Check server resources and inference batch sizes")
		}
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Collect more data")
	}
	return recommendations
}

func (e *FallbackEngine) summary(m *types.AggregatedMetrics, issues []types.PerformanceIssue, errorReason string) string {
	if m.TotalPredictions < minDataPoints {
		return fmt.Sprintf(
			"Insufficient data: only %d predictions recorded. More data is needed for a meaningful analysis.",
			m.TotalPredictions)
	}
	return fmt.Sprintf("Automated analysis: %d issue(s) detected. (Error: %s)", len(issues), errorReason)
}
