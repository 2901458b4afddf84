package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/rbac"
	"github.com/opsdesk/triage-console/internal/services"
	"github.com/opsdesk/triage-console/internal/workflow"
)

// EditorHandler exposes the report editor workflow
type EditorHandler struct {
	editors *services.EditorService
	logger  *zap.SugaredLogger
}

// NewEditorHandler creates a new editor handler
func NewEditorHandler(es *services.EditorService, logger *zap.SugaredLogger) *EditorHandler {
	return &EditorHandler{editors: es, logger: logger}
}

type editorResponse struct {
	EditorID string        `json:"editorId"`
	View     workflow.View `json:"view"`
	Error    string        `json:"error,omitempty"`
}

// respondView writes the editor view. A failed action still returns the view
// so the client can render the editor state next to the error.
func (h *EditorHandler) respondView(w http.ResponseWriter, id string, view workflow.View, err error) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			respondError(w, status, err.Error())
			return
		}
		respondJSON(w, status, editorResponse{EditorID: id, View: view, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, editorResponse{EditorID: id, View: view})
}

type openRequest struct {
	ReportID string `json:"reportId"`
}

// Open handles POST /api/v1/editors
func (h *EditorHandler) Open(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	var req openRequest
	if err := decodeBody(w, r, &req); err != nil || req.ReportID == "" {
		respondError(w, http.StatusBadRequest, "reportId is required")
		return
	}

	id, view, err := h.editors.Open(r.Context(), sess, req.ReportID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, editorResponse{EditorID: id, View: view})
}

// View handles GET /api/v1/editors/{id}
func (h *EditorHandler) View(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	view, err := h.editors.View(sess, id)
	h.respondView(w, id, view, err)
}

// Options handles GET /api/v1/editors/{id}/options/{field}
func (h *EditorHandler) Options(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	opts, err := h.editors.Options(r.Context(), sess, chi.URLParam(r, "id"), rbac.Field(chi.URLParam(r, "field")))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

type fieldRequest struct {
	Field rbac.Field `json:"field"`
	Value string     `json:"value"`
}

// SetField handles PUT /api/v1/editors/{id}/field
func (h *EditorHandler) SetField(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	var req fieldRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	view, err := h.editors.SetField(r.Context(), sess, id, req.Field, req.Value)
	h.respondView(w, id, view, err)
}

type draftRequest struct {
	Text string `json:"text"`
}

// SetComment handles PUT /api/v1/editors/{id}/comment
func (h *EditorHandler) SetComment(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	view, err := h.editors.SetComment(sess, id, req.Text)
	h.respondView(w, id, view, err)
}

// Save handles POST /api/v1/editors/{id}/save
func (h *EditorHandler) Save(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	view, err := h.editors.Save(r.Context(), sess, id)
	h.respondView(w, id, view, err)
}

// Send handles POST /api/v1/editors/{id}/send
func (h *EditorHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	view, err := h.editors.Send(r.Context(), sess, id)
	h.respondView(w, id, view, err)
}

// Close handles DELETE /api/v1/editors/{id}
func (h *EditorHandler) Close(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	if err := h.editors.Close(sess, chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
