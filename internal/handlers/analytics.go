package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/analytics"
	"github.com/opsdesk/triage-console/internal/services"
)

// AnalyticsHandler serves the analytics view
type AnalyticsHandler struct {
	svc    *services.AnalyticsService
	logger *zap.SugaredLogger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(svc *services.AnalyticsService, logger *zap.SugaredLogger) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc, logger: logger}
}

// Compute handles GET /api/v1/analytics
// Query: ?timeframe=last_7_days&department=all&status=all&severity=all&refresh=false
func (h *AnalyticsHandler) Compute(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := analytics.Filter{
		Timeframe:  q.Get("timeframe"),
		Department: q.Get("department"),
		Status:     q.Get("status"),
		Severity:   q.Get("severity"),
	}
	if err := f.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	refresh, _ := strconv.ParseBool(q.Get("refresh"))

	res, err := h.svc.Compute(r.Context(), sess, f, refresh)
	if err != nil {
		h.logger.Errorw("Failed to compute analytics", "session", sess.ID, "error", err)
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
