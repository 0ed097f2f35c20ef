package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/modelwatch/modelwatch/pkg/logging"
)

// RequestIDMiddleware assigns each request an ID and a correlation ID,
// honoring IDs supplied by the caller so traces survive across services.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}

		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Header("X-Correlation-ID", correlationID)

		ctx := c.Request.Context()
		ctx = logging.WithCorrelationID(ctx, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// LoggingMiddleware logs each request with latency and status
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogRequest(
			c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// RecoveryMiddleware converts panics into 500 responses
func RecoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
				)
				c.AbortWithStatusJSON(500, APIResponse{
					Success: false,
					Error: &APIError{
						Code:    "INTERNAL_ERROR",
						Message: "an unexpected error occurred",
					},
					RequestID: requestID(c),
					Timestamp: time.Now().UTC(),
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware configures cross-origin access for dashboards
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-Correlation-ID"},
		ExposeHeaders:   []string{"X-Request-ID", "X-Correlation-ID"},
		MaxAge:          12 * time.Hour,
	})
}
