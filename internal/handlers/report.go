package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/lookup"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/rbac"
	"github.com/opsdesk/triage-console/internal/services"
)

// ReportHandler handles report, comment and lookup endpoints
type ReportHandler struct {
	reports *services.ReportService
	logger  *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(rs *services.ReportService, logger *zap.SugaredLogger) *ReportHandler {
	return &ReportHandler{reports: rs, logger: logger}
}

type reportDetail struct {
	models.Report
	Capabilities rbac.Capabilities `json:"capabilities"`
}

// List handles GET /api/v1/reports. ?refresh=true bypasses the cached view.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	reports, err := h.reports.View(r.Context(), sess, refresh)
	if err != nil {
		h.logger.Errorw("Failed to list reports", "session", sess.ID, "error", err)
		respondFailure(w, err)
		return
	}
	if reports == nil {
		reports = []models.Report{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// Detail handles GET /api/v1/reports/{id}
func (h *ReportHandler) Detail(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	report, err := h.reports.Detail(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, reportDetail{
		Report:       report,
		Capabilities: rbac.ForReport(sess.Principal, report),
	})
}

// Comments handles GET /api/v1/reports/{id}/comments
func (h *ReportHandler) Comments(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	comments, err := h.reports.Comments(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	respondJSON(w, http.StatusOK, comments)
}

type commentRequest struct {
	Text string `json:"text"`
}

// AddComment handles POST /api/v1/reports/{id}/comments
func (h *ReportHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	comments, err := h.reports.AddComment(r.Context(), sess, id, req.Text)
	if err != nil {
		if statusFor(err) == http.StatusBadGateway {
			h.logger.Errorw("Failed to add comment", "report", id, "error", err)
		}
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, comments)
}

// Lookup handles GET /api/v1/lookups/{kind}
func (h *ReportHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	kind, err := lookup.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	table := h.reports.Lookup(r.Context(), sess, kind)
	entries := table.Entries
	if entries == nil {
		entries = []lookup.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}
