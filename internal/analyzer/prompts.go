package analyzer

import (
	"fmt"
	"strings"

	"github.com/modelwatch/modelwatch/pkg/types"
)

// PromptBuilder formats aggregated metrics into the analysis prompt
type PromptBuilder struct{}

// NewPromptBuilder creates a prompt builder
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildAnalysisPrompt assembles the full prompt: role, current window,
// an optional previous-window comparison, and the output schema.
func (b *PromptBuilder) BuildAnalysisPrompt(current, previous *types.AggregatedMetrics) string {
	var sb strings.Builder

	sb.WriteString("You are a machine learning model performance analyst.\n")
	sb.WriteString("Analyze the performance metrics of a sentiment analysis model.\n\n")

	b.writeCurrentMetrics(&sb, current)

	if previous != nil && previous.TotalPredictions > 0 {
		b.writeComparison(&sb, current, previous)
	}

	b.writeOutputSchema(&sb)

	return sb.String()
}

func (b *PromptBuilder) writeCurrentMetrics(sb *strings.Builder, m *types.AggregatedMetrics) {
	fmt.Fprintf(sb, "## CURRENT METRICS (%s - %s)\n",
		m.TimeWindowStart.Format("2006-01-02 15:04:05"),
		m.TimeWindowEnd.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(sb, "- Total predictions: %d\n", m.TotalPredictions)
	fmt.Fprintf(sb, "- Average confidence: %.2f\n", m.AverageConfidence)
	fmt.Fprintf(sb, "- Average latency: %.2fms\n", m.AverageInferenceTimeMs)
	if m.P95InferenceTimeMs > 0 {
		fmt.Fprintf(sb, "- P95 latency: %.2fms\n", m.P95InferenceTimeMs)
	}
	fmt.Fprintf(sb, "- Min/Max latency: %.2fms / %.2fms\n", m.MinInferenceTimeMs, m.MaxInferenceTimeMs)
	fmt.Fprintf(sb, "- Sentiment distribution: %v\n", m.SentimentDistribution)
	fmt.Fprintf(sb, "- Status: %s\n", m.Status)
}

func (b *PromptBuilder) writeComparison(sb *strings.Builder, current, previous *types.AggregatedMetrics) {
	sb.WriteString("\n## COMPARISON WITH PREVIOUS WINDOW\n")

	if previous.AverageConfidence > 0 {
		confChange := (current.AverageConfidence - previous.AverageConfidence) /
			previous.AverageConfidence * 100
		fmt.Fprintf(sb, "- Confidence change: %+.1f%%\n", confChange)
	}

	if previous.P95InferenceTimeMs > 0 && current.P95InferenceTimeMs > 0 {
		p95Change := (current.P95InferenceTimeMs - previous.P95InferenceTimeMs) /
			previous.P95InferenceTimeMs * 100
		fmt.Fprintf(sb, "- P95 latency change: %+.1f%%\n", p95Change)
	} else {
		sb.WriteString("- P95 latency change: not available (insufficient data)\n")
	}

	fmt.Fprintf(sb, "- Prediction count delta: %+d\n",
		current.TotalPredictions-previous.TotalPredictions)
}

func (b *PromptBuilder) writeOutputSchema(sb *strings.Builder) {
	sb.WriteString(`
## TASK
Produce an analysis report as a single JSON object with exactly these fields:
{
  "summary": "2-3 sentence overall assessment",
  "identified_issues": [
    {"issue_type": "low_confidence|high_latency|data_drift|...", "severity": "low|medium|high|critical", "description": "..."}
  ],
  "recommendations": ["actionable recommendation", "..."],
  "root_cause_hypothesis": "most likely root cause",
  "confidence_score": 0.0
}
Respond with the JSON object only, no surrounding text.
`)
}
