package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  display_name TEXT NOT NULL,
  poll_interval_hours INT NOT NULL,
  status_code INT NULL,
  label TEXT NOT NULL DEFAULT '',
  delivered BOOLEAN NOT NULL DEFAULT FALSE,
  snapshot JSONB NULL,
  last_fetched_at TIMESTAMPTZ NULL,
  last_checked_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_tracking_number ON shipments(tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_display_name ON shipments(display_name, id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
