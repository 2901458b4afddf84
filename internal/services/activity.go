package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/models"
)

// ActivityRecorder records triage actions. Implemented by ActivityLogService;
// nil disables the audit trail.
type ActivityRecorder interface {
	Log(ctx context.Context, entry *models.ActivityLogEntry) error
}

// ActivityLogService handles the triage audit trail
type ActivityLogService struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewActivityLogService creates a new activity log service
func NewActivityLogService(db *pgxpool.Pool, logger *zap.SugaredLogger) *ActivityLogService {
	return &ActivityLogService{db: db, logger: logger}
}

// Log records a console action
func (s *ActivityLogService) Log(ctx context.Context, entry *models.ActivityLogEntry) error {
	query := `
		INSERT INTO triage_activity (report_id, actor_id, actor_role, action, detail)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.Exec(ctx, query,
		nullable(entry.ReportID),
		entry.ActorID,
		string(entry.ActorRole),
		entry.Action,
		entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}

	s.logger.Infow("Activity logged",
		"actor", entry.ActorID,
		"role", entry.ActorRole,
		"action", entry.Action,
		"report", entry.ReportID,
	)
	return nil
}

// FetchByReport returns the audit trail of one report, newest first
func (s *ActivityLogService) FetchByReport(ctx context.Context, reportID string, limit int) ([]models.ActivityLog, error) {
	query := `
		SELECT id, COALESCE(report_id, ''), actor_id, actor_role, action, detail, created_at
		FROM triage_activity
		WHERE report_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity for %s: %w", reportID, err)
	}
	return scanActivity(rows)
}

// FetchRecent returns recent activity across all reports
func (s *ActivityLogService) FetchRecent(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	query := `
		SELECT id, COALESCE(report_id, ''), actor_id, actor_role, action, detail, created_at
		FROM triage_activity
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent activity: %w", err)
	}
	return scanActivity(rows)
}

func scanActivity(rows pgx.Rows) ([]models.ActivityLog, error) {
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var log models.ActivityLog
		if err := rows.Scan(&log.ID, &log.ReportID, &log.ActorID,
			&log.ActorRole, &log.Action, &log.Detail, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
