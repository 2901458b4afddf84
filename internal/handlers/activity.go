package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/services"
)

// ActivityHandler handles audit trail endpoints
type ActivityHandler struct {
	svc     *services.ActivityLogService
	reports *services.ReportService
	logger  *zap.SugaredLogger
}

// NewActivityHandler creates a new activity handler. svc is nil when no
// database is configured.
func NewActivityHandler(svc *services.ActivityLogService, rs *services.ReportService, logger *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{svc: svc, reports: rs, logger: logger}
}

// ByReport handles GET /api/v1/activity/reports/{id}
func (h *ActivityHandler) ByReport(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		respondError(w, http.StatusServiceUnavailable, "Activity log not configured")
		return
	}
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	// visibility follows the report itself
	if _, err := h.reports.Detail(r.Context(), sess, id); err != nil {
		respondFailure(w, err)
		return
	}

	logs, err := h.svc.FetchByReport(r.Context(), id, limitParam(r, 50))
	if err != nil {
		h.logger.Errorw("Failed to fetch activity", "report", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch activity")
		return
	}
	if logs == nil {
		logs = []models.ActivityLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

// Recent handles GET /api/v1/activity/recent (System Admin)
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		respondError(w, http.StatusServiceUnavailable, "Activity log not configured")
		return
	}

	logs, err := h.svc.FetchRecent(r.Context(), limitParam(r, 100))
	if err != nil {
		h.logger.Errorw("Failed to fetch recent activity", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch recent activity")
		return
	}
	if logs == nil {
		logs = []models.ActivityLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

func limitParam(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 || n > 500 {
		return fallback
	}
	return n
}
