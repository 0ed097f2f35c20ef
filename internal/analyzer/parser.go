package analyzer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/types"
)

// Parser validates upstream JSON payloads into analysis reports
type Parser struct{}

// NewParser creates a response parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse converts the raw upstream payload into a validated report tagged
// source=upstream, stamping in the metrics snapshot the upstream does
// not know about. Malformed or invalid payloads yield a parse error.
func (p *Parser) Parse(responseText string, snapshot *types.AggregatedMetrics) (*types.AnalysisReport, error) {
	payload := stripFences(responseText)

	var report types.AnalysisReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, errors.NewParseError("invalid response format").
			WithDetail("payload", truncate(payload, 200)).
			WithCause(err)
	}

	if err := report.Validate(); err != nil {
		return nil, errors.NewParseError("response failed validation").
			WithCause(err)
	}

	report.Source = types.SourceUpstream
	report.MetricsAnalyzed = snapshot
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}
	for i := range report.IdentifiedIssues {
		if report.IdentifiedIssues[i].DetectedAt.IsZero() {
			report.IdentifiedIssues[i].DetectedAt = report.GeneratedAt
		}
	}

	return &report, nil
}

// stripFences removes a markdown code fence if the upstream wrapped its
// JSON in one despite the JSON response mime type.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
