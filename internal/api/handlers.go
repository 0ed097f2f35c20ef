package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelwatch/modelwatch/internal/analyzer"
	"github.com/modelwatch/modelwatch/internal/cache"
	"github.com/modelwatch/modelwatch/internal/database"
	"github.com/modelwatch/modelwatch/internal/ratelimit"
	"github.com/modelwatch/modelwatch/internal/tracker"
	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/types"
)

// defaultAnalysisWindow is used when the caller does not specify one
const defaultAnalysisWindow = time.Hour

// AnalysisService is the analyze operation the handlers depend on
type AnalysisService interface {
	Analyze(ctx context.Context, current, previous *types.AggregatedMetrics) *types.AnalysisReport
}

// Handlers serves the monitoring API
type Handlers struct {
	tracker     *tracker.Tracker
	analysis    AnalysisService
	cache       *cache.Service
	limiter     *ratelimit.Limiter
	fallback    *analyzer.FallbackEngine
	predictions *database.PredictionRepository
	models      *database.ModelVersionRepository
	logger      *logging.Logger
}

// NewHandlers creates the API handlers. The repository arguments are nil
// when the database is disabled; archiving is then skipped.
func NewHandlers(
	t *tracker.Tracker,
	analysis AnalysisService,
	cacheService *cache.Service,
	limiter *ratelimit.Limiter,
	fallback *analyzer.FallbackEngine,
	predictions *database.PredictionRepository,
	models *database.ModelVersionRepository,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		tracker:     t,
		analysis:    analysis,
		cache:       cacheService,
		limiter:     limiter,
		fallback:    fallback,
		predictions: predictions,
		models:      models,
		logger:      logger,
	}
}

// RecordPrediction ingests a single prediction metric
// POST /api/v1/predictions
func (h *Handlers) RecordPrediction(c *gin.Context) {
	var metric types.PredictionMetric
	if err := c.ShouldBindJSON(&metric); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.tracker.Record(ctx, &metric); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	// Archiving is best effort; the live tracker is the system of record
	// for aggregation.
	if h.predictions != nil {
		if err := h.predictions.Insert(ctx, &metric); err != nil {
			h.logger.WithError(err).Warn("Failed to archive prediction metric")
		}
	}

	CreatedResponse(c, gin.H{
		"prediction_id": metric.PredictionID,
		"recorded_at":   metric.Timestamp,
	})
}

// GetAggregatedMetrics summarizes the requested window
// GET /api/v1/metrics/aggregated?window=1h
func (h *Handlers) GetAggregatedMetrics(c *gin.Context) {
	window, ok := h.parseWindow(c)
	if !ok {
		return
	}

	agg, err := h.tracker.Aggregate(c.Request.Context(), window)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, agg)
}

// GetThresholds returns the current evaluation thresholds
// GET /api/v1/metrics/thresholds
func (h *Handlers) GetThresholds(c *gin.Context) {
	SuccessResponse(c, h.tracker.Thresholds())
}

// UpdateThresholds replaces the evaluation thresholds. Cached analyses
// were computed under the old thresholds, so the cache is invalidated.
// PUT /api/v1/metrics/thresholds
func (h *Handlers) UpdateThresholds(c *gin.Context) {
	var thresholds types.MetricThresholds
	if err := c.ShouldBindJSON(&thresholds); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.tracker.UpdateThresholds(thresholds); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	h.fallback.SetThresholds(thresholds)

	ctx := c.Request.Context()
	deleted, err := h.cache.InvalidatePrefix(ctx, "*")
	if err != nil {
		h.logger.WithError(err).Warn("Failed to invalidate analysis cache after threshold update")
	}

	SuccessResponse(c, gin.H{
		"thresholds":          thresholds,
		"invalidated_reports": deleted,
	})
}

// RunAnalysis produces an analysis report for the requested window,
// comparing against the window immediately before it. The endpoint never
// fails on upstream trouble; it degrades to a fallback report.
// POST /api/v1/analysis?window=1h
func (h *Handlers) RunAnalysis(c *gin.Context) {
	window, ok := h.parseWindow(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	current, err := h.tracker.Aggregate(ctx, window)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	previous, err := h.tracker.PreviousWindow(ctx, window)
	if err != nil {
		// Comparison is optional; analyze without it
		h.logger.WithError(err).Warn("Failed to aggregate previous window")
		previous = nil
	}

	report := h.analysis.Analyze(ctx, current, previous)
	SuccessResponse(c, report)
}

// GetRateLimitStatus reports the shared upstream admission window
// GET /api/v1/analysis/ratelimit
func (h *Handlers) GetRateLimitStatus(c *gin.Context) {
	status, err := h.limiter.Stats(c.Request.Context(), analyzer.GlobalIdentifier)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, status)
}

// GetCacheStats reports the analysis cache keyspace
// GET /api/v1/cache/stats
func (h *Handlers) GetCacheStats(c *gin.Context) {
	stats, err := h.cache.GetStats(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, stats)
}

// InvalidateCache drops all cached analysis reports
// DELETE /api/v1/cache
func (h *Handlers) InvalidateCache(c *gin.Context) {
	deleted, err := h.cache.InvalidatePrefix(c.Request.Context(), "*")
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"deleted": deleted})
}

// ListModelVersions returns registered model versions
// GET /api/v1/models
func (h *Handlers) ListModelVersions(c *gin.Context) {
	if h.models == nil {
		ErrorResponseFromError(c, errors.NewValidationError("model registry requires the database"))
		return
	}
	versions, err := h.models.List(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, versions)
}

// RegisterModelVersion registers a model version
// POST /api/v1/models
func (h *Handlers) RegisterModelVersion(c *gin.Context) {
	if h.models == nil {
		ErrorResponseFromError(c, errors.NewValidationError("model registry requires the database"))
		return
	}

	var req struct {
		Version string `json:"version" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.models.Register(c.Request.Context(), req.Version); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	CreatedResponse(c, gin.H{"version": req.Version})
}

// ActivateModelVersion marks one version active
// PUT /api/v1/models/:version/activate
func (h *Handlers) ActivateModelVersion(c *gin.Context) {
	if h.models == nil {
		ErrorResponseFromError(c, errors.NewValidationError("model registry requires the database"))
		return
	}

	version := c.Param("version")
	if err := h.models.SetActive(c.Request.Context(), version); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"version": version, "active": true})
}

// parseWindow reads the window query parameter, writing a 400 on bad
// input. Returns false when the response has already been written.
func (h *Handlers) parseWindow(c *gin.Context) (time.Duration, bool) {
	raw := c.DefaultQuery("window", defaultAnalysisWindow.String())
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		BadRequestResponse(c, "window must be a positive duration, e.g. 30m or 1h")
		return 0, false
	}
	return window, true
}
