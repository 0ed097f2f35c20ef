package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelwatch/modelwatch/internal/database"
	"github.com/modelwatch/modelwatch/internal/redisstore"
)

// HealthHandler reports service and dependency health
type HealthHandler struct {
	store *redisstore.Client
	db    *database.DB
}

// NewHealthHandler creates a health handler. db may be nil when the
// database is disabled.
func NewHealthHandler(store *redisstore.Client, db *database.DB) *HealthHandler {
	return &HealthHandler{store: store, db: db}
}

// Live reports process liveness
// GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Ready reports whether dependencies are reachable. Redis being down
// makes the service not ready: admission control and caching depend on
// it even though individual code paths degrade gracefully.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := h.store.Health(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if h.db != nil {
		if err := h.db.Health(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}
