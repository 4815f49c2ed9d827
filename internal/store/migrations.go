package store

import (
	"context"
	"fmt"
	"time"
)

// migrations are applied in order; the applied version is tracked in schema_versions.
// The DDL sticks to types both SQLite and PostgreSQL accept. Timestamps are Unix
// milliseconds, booleans are 0/1.
var migrations = []struct {
	version int
	sql     []string
}{
	{
		version: 1,
		sql: []string{
			`CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  BIGINT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS detection_results (
    id                  TEXT PRIMARY KEY,
    signal_id           TEXT NOT NULL,
    detection_logic_id  TEXT NOT NULL,
    anomaly_type        TEXT NOT NULL,
    anomaly_level       INTEGER NOT NULL,
    detected_at_ms      BIGINT NOT NULL,
    duration_ns         BIGINT NOT NULL DEFAULT 0,
    confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
    signal_value        DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_validated        INTEGER NOT NULL DEFAULT 0,
    is_resolved         INTEGER NOT NULL DEFAULT 0,
    is_false_positive   INTEGER NOT NULL DEFAULT 0,
    trigger_condition   TEXT NOT NULL DEFAULT ''
)`,
			`CREATE INDEX IF NOT EXISTS idx_detection_results_signal ON detection_results(signal_id, detected_at_ms)`,
			`CREATE INDEX IF NOT EXISTS idx_detection_results_logic ON detection_results(detection_logic_id, detected_at_ms)`,
			`CREATE INDEX IF NOT EXISTS idx_detection_results_detected_at ON detection_results(detected_at_ms)`,
		},
	},
	{
		version: 2,
		sql: []string{
			`CREATE TABLE IF NOT EXISTS detection_logics (
    id    TEXT PRIMARY KEY,
    name  TEXT NOT NULL DEFAULT ''
)`,
			`CREATE TABLE IF NOT EXISTS detection_logic_parameters (
    logic_id  TEXT NOT NULL REFERENCES detection_logics(id) ON DELETE CASCADE,
    position  INTEGER NOT NULL,
    name      TEXT NOT NULL,
    type      TEXT NOT NULL DEFAULT '',
    value     DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (logic_id, position)
)`,
		},
	},
}

// migrate applies pending migrations, each in its own transaction.
func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrations[0].sql[0]); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.sql {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`),
			m.version, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
