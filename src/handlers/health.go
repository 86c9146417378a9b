package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/database"
)

var startTime = time.Now()

// Pinger checks shared-store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db    *database.Database
	store Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.Database, store Pinger) *HealthHandler {
	return &HealthHandler{
		db:    db,
		store: store,
	}
}

// HandleWebhookHealth is the per-vendor liveness probe the vendor platform
// polls.
func (hh *HealthHandler) HandleWebhookHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleHealth returns health status with backing-store checks
func (hh *HealthHandler) HandleHealth(c *gin.Context) {
	start := time.Now()
	dbErr := hh.db.Health(c.Request.Context())
	dbLatency := time.Since(start)

	storeErr := hh.store.Ping(c.Request.Context())

	if dbErr != nil || storeErr != nil {
		resp := gin.H{"status": "unhealthy"}
		if dbErr != nil {
			resp["database"] = dbErr.Error()
		}
		if storeErr != nil {
			resp["store"] = storeErr.Error()
		}
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"database":   "connected",
		"store":      "connected",
		"db_latency": dbLatency.String(),
		"uptime":     time.Since(startTime).String(),
	})
}

// HandleReady returns readiness status (for load balancers)
func (hh *HealthHandler) HandleReady(c *gin.Context) {
	if hh.db.Health(c.Request.Context()) != nil || hh.store.Ping(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
