package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/analytics"
	"github.com/opsdesk/triage-console/internal/session"
)

// AnalyticsService computes the analytics view over a session's report list
type AnalyticsService struct {
	reports *ReportService
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(reports *ReportService, logger *zap.SugaredLogger) *AnalyticsService {
	return &AnalyticsService{reports: reports, logger: logger, now: time.Now}
}

// Compute filters and groups the session's reports. refresh refetches the
// list instead of reusing the cached view.
func (s *AnalyticsService) Compute(ctx context.Context, sess *session.Session, f analytics.Filter, refresh bool) (analytics.Result, error) {
	if err := f.Validate(); err != nil {
		return analytics.Result{}, err
	}

	list, err := s.reports.View(ctx, sess, refresh)
	if err != nil {
		return analytics.Result{}, err
	}
	tables := s.reports.Lookups(ctx, sess)

	res := analytics.Compute(sess.Principal, list, f, tables, s.now())
	s.logger.Debugw("Analytics computed",
		"session", sess.ID,
		"filter", res.Filter,
		"total", res.Total,
	)
	return res, nil
}
