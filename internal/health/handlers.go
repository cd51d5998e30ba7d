package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var startTime = time.Now()

// Handler serves liveness and readiness probes.
type Handler struct {
	db *gorm.DB
}

// NewHandler builds a health Handler.
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// HandleHealthCheck returns basic health status
func (h *Handler) HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "nestora-admin-gateway",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

// HandleSystemReady returns readiness status, including a database ping.
func (h *Handler) HandleSystemReady(c *gin.Context) {
	dbReady := false
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbReady = true
			}
		}
	}

	status := http.StatusOK
	if !dbReady {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"ready":    dbReady,
		"database": dbReady,
		"service":  "nestora-admin-gateway",
	})
}
