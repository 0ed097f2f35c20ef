package api

import (
	"github.com/gin-gonic/gin"

	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
)

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, handlers *Handlers, health *HealthHandler, logger *logging.Logger, m *metrics.Metrics) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware())
	router.Use(m.GinMiddleware())

	router.GET("/health", health.Live)
	router.GET("/health/ready", health.Ready)
	router.GET("/metrics", m.Handler())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/predictions", handlers.RecordPrediction)

		metricsGroup := v1.Group("/metrics")
		{
			metricsGroup.GET("/aggregated", handlers.GetAggregatedMetrics)
			metricsGroup.GET("/thresholds", handlers.GetThresholds)
			metricsGroup.PUT("/thresholds", handlers.UpdateThresholds)
		}

		analysis := v1.Group("/analysis")
		{
			analysis.POST("", handlers.RunAnalysis)
			analysis.GET("/ratelimit", handlers.GetRateLimitStatus)
		}

		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("/stats", handlers.GetCacheStats)
			cacheGroup.DELETE("", handlers.InvalidateCache)
		}

		models := v1.Group("/models")
		{
			models.GET("", handlers.ListModelVersions)
			models.POST("", handlers.RegisterModelVersion)
			models.PUT("/:version/activate", handlers.ActivateModelVersion)
		}
	}

	return router
}
