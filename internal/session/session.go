// Package session holds the signed-in principal for each console user.
//
// A Service is built once in main and handed to whatever needs identity.
// Records live in a Store (Redis in production) as a fast-path cache; the
// backend profile stays authoritative and overwrites the cached copy on
// every Restore.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/backend"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/normalize"
)

var (
	// ErrNoSession means there is no usable session and the caller must log in
	ErrNoSession = errors.New("no active session")
	// ErrBadCredentials is returned when the backend refuses a login
	ErrBadCredentials = errors.New("invalid email or password")
)

// Session is one signed-in console user
type Session struct {
	ID           string           `json:"id"`
	BackendToken string           `json:"backendToken"`
	Principal    models.Principal `json:"principal"`
	CreatedAt    time.Time        `json:"createdAt"`
	RefreshedAt  time.Time        `json:"refreshedAt"`
	// Placeholder is set while the record has not been confirmed by the
	// backend since it was read from the cache.
	Placeholder bool `json:"placeholder"`
}

// Authenticator is the slice of the backend the session service needs
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, token string) (map[string]interface{}, error)
}

type clientAuthenticator struct {
	client *backend.Client
}

// NewAuthenticator adapts a backend client to Authenticator
func NewAuthenticator(c *backend.Client) Authenticator {
	return clientAuthenticator{client: c}
}

func (a clientAuthenticator) Login(ctx context.Context, email, password string) (*backend.LoginResult, error) {
	return a.client.Login(ctx, email, password)
}

func (a clientAuthenticator) Logout(ctx context.Context, token string) error {
	return a.client.WithToken(token).Logout(ctx)
}

func (a clientAuthenticator) Profile(ctx context.Context, token string) (map[string]interface{}, error) {
	return a.client.WithToken(token).Profile(ctx)
}

// Service manages sessions
type Service struct {
	store  Store
	auth   Authenticator
	tokens *Tokens
	ttl    time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewService creates a session service
func NewService(store Store, auth Authenticator, tokens *Tokens, ttl time.Duration, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:  store,
		auth:   auth,
		tokens: tokens,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Login authenticates against the backend and opens a session. It returns the
// session together with the signed browser token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, string, error) {
	res, err := s.auth.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return nil, "", ErrBadCredentials
		}
		return nil, "", fmt.Errorf("backend login: %w", err)
	}

	principal := normalize.Principal(res.Profile)
	if principal.ID == "" {
		// some backends only return the token; ask for the profile
		prof, err := s.auth.Profile(ctx, res.Token)
		if err != nil {
			return nil, "", fmt.Errorf("fetch profile: %w", err)
		}
		principal = normalize.Principal(prof)
	}

	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		BackendToken: res.Token,
		Principal:    principal,
		CreatedAt:    now,
		RefreshedAt:  now,
	}
	if err := s.store.Put(ctx, sess, s.ttl); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(sess)
	if err != nil {
		return nil, "", err
	}

	s.logger.Infow("Session opened",
		"session", sess.ID,
		"user", principal.ID,
		"role", principal.Role,
	)
	return sess, token, nil
}

// Logout closes the session locally and tells the backend. A backend failure
// is logged; the local session is removed regardless.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if err := s.auth.Logout(ctx, claims.BackendToken); err != nil {
		s.logger.Warnw("Backend logout failed", "session", claims.SessionID, "error", err)
	}
	if err := s.store.Delete(ctx, claims.SessionID); err != nil {
		return err
	}
	s.logger.Infow("Session closed", "session", claims.SessionID)
	return nil
}

// Get returns the cached session without contacting the backend
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// Restore reconciles the cached session with the backend profile. The cached
// record is a placeholder; a backend profile always replaces its principal.
// The session is discarded when the backend rejects the token, or when the
// backend has no profile and nothing was cached. When the backend cannot be
// reached the placeholder is returned as is.
func (s *Service) Restore(ctx context.Context, claims *Claims) (*Session, error) {
	cached, err := s.store.Get(ctx, claims.SessionID)
	if err != nil && !errors.Is(err, ErrNoSession) {
		s.logger.Warnw("Session cache unavailable", "session", claims.SessionID, "error", err)
	}
	if cached != nil {
		cached.Placeholder = true
	}

	prof, err := s.auth.Profile(ctx, claims.BackendToken)
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		s.discard(ctx, claims.SessionID)
		return nil, ErrNoSession
	case err != nil:
		if cached == nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		s.logger.Warnw("Profile fetch failed, serving cached session", "session", claims.SessionID, "error", err)
		return cached, nil
	case len(prof) == 0:
		if cached == nil {
			return nil, ErrNoSession
		}
		return cached, nil
	}

	now := s.now()
	sess := cached
	if sess == nil {
		sess = &Session{ID: claims.SessionID, BackendToken: claims.BackendToken, CreatedAt: now}
	}
	sess.Principal = normalize.Principal(prof)
	sess.RefreshedAt = now
	sess.Placeholder = false

	if err := s.store.Put(ctx, sess, s.ttl); err != nil {
		s.logger.Warnw("Failed to refresh session cache", "session", sess.ID, "error", err)
	}
	return sess, nil
}

// Resolve returns the session for a verified browser token: the cached copy
// when there is one, a full Restore otherwise.
func (s *Service) Resolve(ctx context.Context, claims *Claims) (*Session, error) {
	sess, err := s.store.Get(ctx, claims.SessionID)
	if err == nil {
		return sess, nil
	}
	return s.Restore(ctx, claims)
}

// Tokens returns the browser token issuer
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

func (s *Service) discard(ctx context.Context, id string) {
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Warnw("Failed to discard session", "session", id, "error", err)
	}
}
