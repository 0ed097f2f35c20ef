package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
)

// UpstreamClient executes the expensive generation call. Implementations
// must classify their failures as transient or fatal at this boundary so
// the retry policy and the orchestrator never inspect transport details.
type UpstreamClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient talks to a Gemini-style REST generation API
type GeminiClient struct {
	cfg        *config.AnalyzerConfig
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// NewGeminiClient creates an upstream client from the analyzer config
func NewGeminiClient(cfg *config.AnalyzerConfig, logger *logging.Logger, m *metrics.Metrics) *GeminiClient {
	return &GeminiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger,
		metrics: m,
	}
}

// generateRequest is the wire format of the generation call
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate performs one generation call. Errors come back classified:
// transient for 503/500/timeouts/connection failures, fatal for
// 429/400/401/403. The 429 case is fatal on purpose: admission is
// governed by the distributed rate limiter, and retrying a quota error
// would fight it.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      c.cfg.Temperature,
			MaxOutputTokens:  c.cfg.MaxTokens,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return "", errors.NewInternalError("failed to encode generation request").WithCause(err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternalError("failed to build generation request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamAttemptsTotal.WithLabelValues("connection_error").Inc()
		// Timeouts and connection failures are transient by definition
		return "", errors.NewTransientUpstreamError("generation request failed").WithCause(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.UpstreamAttemptsTotal.WithLabelValues("read_error").Inc()
		return "", errors.NewTransientUpstreamError("failed to read generation response").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.UpstreamAttemptsTotal.WithLabelValues(fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
		return "", ClassifyStatus(resp.StatusCode, string(payload))
	}

	var parsed generateResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		c.metrics.UpstreamAttemptsTotal.WithLabelValues("decode_error").Inc()
		return "", errors.NewParseError("malformed generation response envelope").WithCause(err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		c.metrics.UpstreamAttemptsTotal.WithLabelValues("empty").Inc()
		return "", errors.NewParseError("generation response contained no candidates")
	}

	c.metrics.UpstreamAttemptsTotal.WithLabelValues("ok").Inc()
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// ClassifyStatus maps an upstream HTTP status to a classified error.
// Kept a pure function so the classification table is testable and
// portable across client implementations.
func ClassifyStatus(status int, detail string) error {
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch status {
	case http.StatusServiceUnavailable, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return errors.NewTransientUpstreamError(
			fmt.Sprintf("upstream returned %d", status)).WithDetail("body", detail)
	case http.StatusTooManyRequests:
		return errors.NewFatalUpstreamError("upstream quota exceeded (429)").
			WithDetail("body", detail)
	case http.StatusBadRequest:
		return errors.NewFatalUpstreamError("invalid generation request (400)").
			WithDetail("body", detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewFatalUpstreamError(
			fmt.Sprintf("upstream authentication failed (%d)", status)).WithDetail("body", detail)
	default:
		return errors.NewFatalUpstreamError(
			fmt.Sprintf("unexpected upstream status %d", status)).WithDetail("body", detail)
	}
}
