package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/session"
)

type contextKey string

const (
	sessionContextKey     contextKey = "session"
	claimsContextKey      contextKey = "claims"
	requestInfoContextKey contextKey = "request_info"
)

// SessionResolver turns verified token claims into a live session
type SessionResolver interface {
	Tokens() *session.Tokens
	Resolve(ctx context.Context, claims *session.Claims) (*session.Session, error)
}

// RequireAuth validates the browser token and puts the session into the
// request context
func RequireAuth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization required")
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenStr == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid token format")
				return
			}

			claims, err := sessions.Tokens().Parse(tokenStr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			sess, err := sessions.Resolve(r.Context(), claims)
			if err != nil {
				if errors.Is(err, session.ErrNoSession) {
					writeError(w, http.StatusUnauthorized, "Session expired")
				} else {
					writeError(w, http.StatusServiceUnavailable, "Session unavailable")
				}
				return
			}

			noteUser(r.Context(), sess.Principal.ID)

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects sessions whose role is not one of roles
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !allowed[sess.Principal.Role] {
				writeError(w, http.StatusForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a context carrying sess
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFrom returns the session stored by RequireAuth
func SessionFrom(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	return sess, ok && sess != nil
}

// ClaimsFrom returns the token claims stored by RequireAuth
func ClaimsFrom(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*session.Claims)
	return claims, ok && claims != nil
}
