// Package services contains business logic layers.
// Services are called by handlers and talk to the reporting backend, the
// audit store and the event broker.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/lookup"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/normalize"
	"github.com/opsdesk/triage-console/internal/rbac"
	"github.com/opsdesk/triage-console/internal/session"
)

var (
	// ErrNotFound is returned for reports that do not exist or are not
	// visible to the caller
	ErrNotFound = errors.New("report not found")
	// ErrForbidden is returned when the caller's role does not allow the action
	ErrForbidden = errors.New("action not permitted for this role")
	// ErrEmptyComment is returned for blank comment text
	ErrEmptyComment = errors.New("comment text is required")
)

// Backend is the report surface of the backend client, bound to one token
type Backend interface {
	ListReports(ctx context.Context, department string) (interface{}, error)
	GetReport(ctx context.Context, id string) (interface{}, error)
	SaveReport(ctx context.Context, id string, req models.SaveRequest) error
	SendReport(ctx context.Context, id string) error
	ListComments(ctx context.Context, id string) (interface{}, error)
	AddComment(ctx context.Context, id, text string) error
	Dropdown(ctx context.Context, kind string) (interface{}, error)
}

// BackendFunc returns a Backend authenticated with a backend token
type BackendFunc func(backendToken string) Backend

// ReportService handles report listing and detail
type ReportService struct {
	backend BackendFunc
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	views map[string][]models.Report // session id -> list view
}

// NewReportService creates a new report service
func NewReportService(backend BackendFunc, logger *zap.SugaredLogger) *ReportService {
	return &ReportService{
		backend: backend,
		logger:  logger,
		views:   make(map[string][]models.Report),
	}
}

// Lookups fetches all four enumerations for the session
func (s *ReportService) Lookups(ctx context.Context, sess *session.Session) lookup.Set {
	return lookup.NewProvider(s.backend(sess.BackendToken), s.logger).FetchSet(ctx)
}

// Lookup fetches one enumeration for the session
func (s *ReportService) Lookup(ctx context.Context, sess *session.Session, kind lookup.Kind) lookup.Table {
	return lookup.NewProvider(s.backend(sess.BackendToken), s.logger).Fetch(ctx, kind)
}

// List fetches the reports visible to the session and caches them as the
// session's list view. Department Admins are scoped at the backend and again
// locally.
func (s *ReportService) List(ctx context.Context, sess *session.Session) ([]models.Report, error) {
	p := sess.Principal
	if p.Role == models.RoleDepartmentAdmin && p.Department == "" {
		s.store(sess.ID, nil)
		return []models.Report{}, nil
	}

	payload, err := s.backend(sess.BackendToken).ListReports(ctx, rbac.ScopeDepartment(p))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	tables := s.Lookups(ctx, sess)
	all := normalize.Reports(payload)
	visible := make([]models.Report, 0, len(all))
	for _, r := range all {
		tables.ApplyTo(&r)
		if rbac.Visible(p, r) {
			visible = append(visible, r)
		}
	}

	s.store(sess.ID, visible)
	s.logger.Debugw("Reports listed",
		"session", sess.ID,
		"fetched", len(all),
		"visible", len(visible),
	)
	return cloneReports(visible), nil
}

// View returns the cached list view, fetching it on first use or when
// refresh is set
func (s *ReportService) View(ctx context.Context, sess *session.Session, refresh bool) ([]models.Report, error) {
	if !refresh {
		s.mu.Lock()
		v, ok := s.views[sess.ID]
		s.mu.Unlock()
		if ok {
			return cloneReports(v), nil
		}
	}
	return s.List(ctx, sess)
}

// Patch replaces one report in the session's list view
func (s *ReportService) Patch(sessionID string, r models.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.views[sessionID] {
		if cur.ID == r.ID {
			s.views[sessionID][i] = r
			return
		}
	}
}

// Forget drops the session's list view
func (s *ReportService) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.views, sessionID)
	s.mu.Unlock()
}

// Detail fetches one report with its comment thread. The dedicated comments
// endpoint is preferred; the array embedded in the detail payload is used
// when that endpoint fails or has nothing.
func (s *ReportService) Detail(ctx context.Context, sess *session.Session, id string) (models.Report, error) {
	be := s.backend(sess.BackendToken)

	payload, err := be.GetReport(ctx, id)
	if err != nil {
		return models.Report{}, fmt.Errorf("get report %s: %w", id, err)
	}
	r := normalize.Report(normalize.Record(payload))
	if r.ID == "" {
		r.ID = id
	}

	tables := s.Lookups(ctx, sess)
	tables.ApplyTo(&r)
	if !rbac.Visible(sess.Principal, r) {
		return models.Report{}, ErrNotFound
	}

	if dedicated := s.dedicatedComments(ctx, be, id); len(dedicated) > 0 {
		r.Comments = dedicated
	}
	return r, nil
}

// Comments returns the comment thread of a visible report
func (s *ReportService) Comments(ctx context.Context, sess *session.Session, id string) ([]models.Comment, error) {
	r, err := s.Detail(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return r.Comments, nil
}

// AddComment posts a comment outside the save path and returns the refreshed
// thread
func (s *ReportService) AddComment(ctx context.Context, sess *session.Session, id, text string) ([]models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyComment
	}

	r, err := s.Detail(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	if !rbac.ForReport(sess.Principal, r).Comment {
		return nil, ErrForbidden
	}

	if err := s.backend(sess.BackendToken).AddComment(ctx, id, text); err != nil {
		return nil, fmt.Errorf("add comment to %s: %w", id, err)
	}

	r, err = s.Detail(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	s.Patch(sess.ID, r)
	return r.Comments, nil
}

func (s *ReportService) dedicatedComments(ctx context.Context, be Backend, id string) []models.Comment {
	payload, err := be.ListComments(ctx, id)
	if err != nil {
		s.logger.Debugw("Comments endpoint unavailable, using embedded thread", "report", id, "error", err)
		return nil
	}
	if m, ok := payload.(map[string]interface{}); ok {
		for _, key := range []string{"comments", "Comments", "data", "Data"} {
			if inner, ok := m[key]; ok {
				return normalize.Comments(inner)
			}
		}
	}
	return normalize.Comments(payload)
}

func (s *ReportService) store(sessionID string, reports []models.Report) {
	s.mu.Lock()
	s.views[sessionID] = cloneReports(reports)
	s.mu.Unlock()
}

func cloneReports(in []models.Report) []models.Report {
	out := make([]models.Report, len(in))
	copy(out, in)
	return out
}
