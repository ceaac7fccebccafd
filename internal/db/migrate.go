package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jrschumacher/wheelcheck/internal/logger"
)

// migration is one schema step with per-dialect statements.
type migration struct {
	version  int
	name     string
	sqlite   []string
	postgres []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create daily_checklists",
		sqlite: []string{`
CREATE TABLE IF NOT EXISTS daily_checklists (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                TEXT NOT NULL,
	trade_date             TEXT NOT NULL,
	open_csp_count         INTEGER,
	positions_rolled_count INTEGER,
	cash_deployed_pct      REAL,
	high_impact_event      BOOLEAN,
	qqq_rsi_over70         BOOLEAN,
	notes                  TEXT,
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL,
	UNIQUE (user_id, trade_date)
)`,
			`CREATE INDEX IF NOT EXISTS idx_daily_checklists_user_date ON daily_checklists (user_id, trade_date DESC)`,
		},
		postgres: []string{`
CREATE TABLE IF NOT EXISTS daily_checklists (
	id                     BIGSERIAL PRIMARY KEY,
	user_id                TEXT NOT NULL,
	trade_date             TEXT NOT NULL,
	open_csp_count         INTEGER,
	positions_rolled_count INTEGER,
	cash_deployed_pct      DOUBLE PRECISION,
	high_impact_event      BOOLEAN,
	qqq_rsi_over70         BOOLEAN,
	notes                  TEXT,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, trade_date)
)`,
			`CREATE INDEX IF NOT EXISTS idx_daily_checklists_user_date ON daily_checklists (user_id, trade_date DESC)`,
		},
	},
}

// Migrate brings the schema up to date. Applied versions are recorded in
// schema_migrations so reruns are no-ops.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := s.db.QueryRowContext(ctx, s.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		stmts := m.sqlite
		if s.driver == PostgreSQL {
			stmts = m.postgres
		}

		err = s.WithTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, s.Rebind(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`), m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.name, err)
		}
		logger.Info("Applied migration", "version", m.version, "name", m.name)
	}
	return nil
}
