package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/models"
)

const version = "1.0.0"

var startTime = time.Now()

// HealthHandler provides health check endpoints
type HealthHandler struct {
	db     *pgxpool.Pool
	cache  *redis.Client
	logger *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler. db and cache are optional.
func NewHealthHandler(db *pgxpool.Pool, cache *redis.Client, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, logger: logger}
}

// Check handles GET /api/v1/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ok",
		Version: version,
		Uptime:  time.Since(startTime).String(),
	})
}

// Ready handles GET /api/v1/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:   "ready",
		Version:  version,
		Uptime:   time.Since(startTime).String(),
		Database: "disabled",
		Cache:    "memory",
	}
	ready := true

	if h.db != nil {
		status.Database = "connected"
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warnw("Database ping failed", "error", err)
			status.Database = "disconnected"
			ready = false
		}
	}
	if h.cache != nil {
		status.Cache = "connected"
		if err := h.cache.Ping(ctx).Err(); err != nil {
			h.logger.Warnw("Redis ping failed", "error", err)
			status.Cache = "disconnected"
			ready = false
		}
	}

	if !ready {
		status.Status = "not ready"
		status.Uptime = ""
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
