package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS triage_activity (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		report_id   TEXT,
		actor_id    TEXT NOT NULL,
		actor_role  TEXT NOT NULL,
		action      TEXT NOT NULL,
		detail      TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS triage_activity_report_idx ON triage_activity (report_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS triage_activity_created_idx ON triage_activity (created_at DESC)`,
}

// EnsureSchema creates the audit trail table when it does not exist
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
