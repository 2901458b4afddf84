// Package handlers contains HTTP request handlers for the triage console API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opsdesk/triage-console/internal/admin"
	"github.com/opsdesk/triage-console/internal/backend"
	"github.com/opsdesk/triage-console/internal/middleware"
	"github.com/opsdesk/triage-console/internal/services"
	"github.com/opsdesk/triage-console/internal/session"
	"github.com/opsdesk/triage-console/internal/workflow"
)

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBadCredentials),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, workflow.ErrForbidden),
		errors.Is(err, admin.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrEditorNotFound),
		errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrBusy),
		errors.Is(err, workflow.ErrSaveBeforeSend):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrClosed):
		return http.StatusGone
	case errors.Is(err, services.ErrUnknownValue),
		errors.Is(err, services.ErrEmptyComment),
		errors.Is(err, admin.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func respondFailure(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst)
}

// currentSession returns the session put in the context by RequireAuth.
// Routes using it are always mounted behind RequireAuth.
func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return sess, ok
}
