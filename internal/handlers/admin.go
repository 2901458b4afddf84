package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/admin"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/session"
)

// AdminHandler handles user, department and location management
type AdminHandler struct {
	svc    *admin.Service
	logger *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *admin.Service, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// respondOutcome writes the result of an optimistic write. The locally
// applied record is returned even when the backend rejected the change; the
// rejection is carried in the outcome rather than the status code.
func respondOutcome[T admin.Record](w http.ResponseWriter, created bool, out admin.Outcome[T], err error) {
	if err != nil {
		respondFailure(w, err)
		return
	}
	status := http.StatusOK
	if created && out.Synced {
		status = http.StatusCreated
	}
	respondJSON(w, status, out)
}

func reloadParam(r *http.Request) bool {
	reload, _ := strconv.ParseBool(r.URL.Query().Get("reload"))
	return reload
}

// ListUsers handles GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(sess *session.Session) (interface{}, error) {
		users, err := h.svc.ListUsers(r.Context(), sess, reloadParam(r))
		if users == nil {
			users = []models.User{}
		}
		return users, err
	})
}

// RegisterUser handles POST /api/v1/admin/users
func (h *AdminHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var reg models.UserRegistration
	if err := decodeBody(w, r, &reg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	out, err := h.svc.RegisterUser(r.Context(), sess, reg)
	respondOutcome(w, true, out, err)
}

// UpdateUser handles PUT /api/v1/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var u models.User
	if err := decodeBody(w, r, &u); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	u.ID = chi.URLParam(r, "id")
	out, err := h.svc.UpdateUser(r.Context(), sess, u)
	respondOutcome(w, false, out, err)
}

// DeleteUser handles DELETE /api/v1/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	out, err := h.svc.DeleteUser(r.Context(), sess, chi.URLParam(r, "id"))
	respondOutcome(w, false, out, err)
}

// ListDepartments handles GET /api/v1/admin/departments
func (h *AdminHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(sess *session.Session) (interface{}, error) {
		items, err := h.svc.ListDepartments(r.Context(), sess, reloadParam(r))
		if items == nil {
			items = []models.Department{}
		}
		return items, err
	})
}

// CreateDepartment handles POST /api/v1/admin/departments
func (h *AdminHandler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var d models.Department
	if err := decodeBody(w, r, &d); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	out, err := h.svc.CreateDepartment(r.Context(), sess, d)
	respondOutcome(w, true, out, err)
}

// UpdateDepartment handles PUT /api/v1/admin/departments/{id}
func (h *AdminHandler) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var d models.Department
	if err := decodeBody(w, r, &d); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	d.ID = chi.URLParam(r, "id")
	out, err := h.svc.UpdateDepartment(r.Context(), sess, d)
	respondOutcome(w, false, out, err)
}

// DeleteDepartment handles DELETE /api/v1/admin/departments/{id}
func (h *AdminHandler) DeleteDepartment(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	out, err := h.svc.DeleteDepartment(r.Context(), sess, chi.URLParam(r, "id"))
	respondOutcome(w, false, out, err)
}

// ListLocations handles GET /api/v1/admin/locations
func (h *AdminHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(sess *session.Session) (interface{}, error) {
		items, err := h.svc.ListLocations(r.Context(), sess, reloadParam(r))
		if items == nil {
			items = []models.Location{}
		}
		return items, err
	})
}

// CreateLocation handles POST /api/v1/admin/locations
func (h *AdminHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var l models.Location
	if err := decodeBody(w, r, &l); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	out, err := h.svc.CreateLocation(r.Context(), sess, l)
	respondOutcome(w, true, out, err)
}

// UpdateLocation handles PUT /api/v1/admin/locations/{id}
func (h *AdminHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var l models.Location
	if err := decodeBody(w, r, &l); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	l.ID = chi.URLParam(r, "id")
	out, err := h.svc.UpdateLocation(r.Context(), sess, l)
	respondOutcome(w, false, out, err)
}

// DeleteLocation handles DELETE /api/v1/admin/locations/{id}
func (h *AdminHandler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	out, err := h.svc.DeleteLocation(r.Context(), sess, chi.URLParam(r, "id"))
	respondOutcome(w, false, out, err)
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request, fetch func(*session.Session) (interface{}, error)) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	items, err := fetch(sess)
	if err != nil {
		h.logger.Errorw("Failed to load directory", "path", r.URL.Path, "error", err)
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}
