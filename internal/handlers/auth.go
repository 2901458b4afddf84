package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/middleware"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/rbac"
	"github.com/opsdesk/triage-console/internal/session"
)

// AuthHandler handles sign-in, sign-out and session restore
type AuthHandler struct {
	sessions *session.Service
	// forget drops per-session state held by other services
	forget []func(sessionID string)
	logger *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler. forget is called with the
// session id on logout and when a restore discards the session.
func NewAuthHandler(sessions *session.Service, logger *zap.SugaredLogger, forget ...func(sessionID string)) *AuthHandler {
	return &AuthHandler{sessions: sessions, forget: forget, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token       string           `json:"token,omitempty"`
	Principal   models.Principal `json:"principal"`
	Placeholder bool             `json:"placeholder"`
	Sections    []rbac.Section   `json:"sections"`
}

func newSessionResponse(sess *session.Session, token string) sessionResponse {
	return sessionResponse{
		Token:       token,
		Principal:   sess.Principal,
		Placeholder: sess.Placeholder,
		Sections:    rbac.Sections(sess.Principal),
	}
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	sess, token, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrBadCredentials) {
			respondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Errorw("Login failed", "email", req.Email, "error", err)
		respondError(w, http.StatusBadGateway, "Login failed")
		return
	}

	respondJSON(w, http.StatusOK, newSessionResponse(sess, token))
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.Logout(r.Context(), claims); err != nil {
		h.logger.Warnw("Session cleanup failed", "session", claims.SessionID, "error", err)
	}
	h.drop(claims.SessionID)

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Session handles GET /api/v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(sess, ""))
}

// Restore handles POST /api/v1/auth/restore. It revalidates the session
// against the backend profile and is mounted without RequireAuth so an
// evicted cache entry can still be rebuilt.
func (h *AuthHandler) Restore(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	claims, err := h.sessions.Tokens().Parse(raw)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	sess, err := h.sessions.Restore(r.Context(), claims)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			h.drop(claims.SessionID)
			respondError(w, http.StatusUnauthorized, "Session expired")
			return
		}
		h.logger.Errorw("Session restore failed", "session", claims.SessionID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "Session unavailable")
		return
	}

	respondJSON(w, http.StatusOK, newSessionResponse(sess, ""))
}

// Navigation handles GET /api/v1/navigation
func (h *AuthHandler) Navigation(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	tabs := rbac.SettingsTabs(sess.Principal)
	if tabs == nil {
		tabs = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sections":     rbac.Sections(sess.Principal),
		"settingsTabs": tabs,
	})
}

func (h *AuthHandler) drop(sessionID string) {
	for _, f := range h.forget {
		f(sessionID)
	}
}
