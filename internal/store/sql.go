package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver "postgres"
	_ "modernc.org/sqlite" // pure-Go SQLite driver "sqlite" (no CGO required)

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore is a Store backed by SQLite or PostgreSQL through sqlx.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// PoolConfig sizes the connection pool. SQLite always uses a single connection.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenSQLStore connects, configures the pool and runs pending migrations.
func OpenSQLStore(ctx context.Context, driver, dsn string, pool PoolConfig) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
			}
		}
	} else {
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// detectionRow is the column layout of detection_results.
type detectionRow struct {
	ID               string  `db:"id"`
	SignalID         string  `db:"signal_id"`
	DetectionLogicID string  `db:"detection_logic_id"`
	AnomalyType      string  `db:"anomaly_type"`
	AnomalyLevel     int     `db:"anomaly_level"`
	DetectedAtMs     int64   `db:"detected_at_ms"`
	DurationNs       int64   `db:"duration_ns"`
	Confidence       float64 `db:"confidence"`
	SignalValue      float64 `db:"signal_value"`
	IsValidated      int     `db:"is_validated"`
	IsResolved       int     `db:"is_resolved"`
	IsFalsePositive  int     `db:"is_false_positive"`
	TriggerCondition string  `db:"trigger_condition"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toRow(d models.DetectionResult) detectionRow {
	return detectionRow{
		ID:               d.ID,
		SignalID:         d.SignalID,
		DetectionLogicID: d.DetectionLogicID,
		AnomalyType:      string(d.Type),
		AnomalyLevel:     int(d.Level),
		DetectedAtMs:     d.DetectedAt.UnixMilli(),
		DurationNs:       int64(d.Duration),
		Confidence:       d.Confidence,
		SignalValue:      d.SignalValue,
		IsValidated:      boolToInt(d.IsValidated),
		IsResolved:       boolToInt(d.IsResolved),
		IsFalsePositive:  boolToInt(d.IsFalsePositive),
		TriggerCondition: d.TriggerCondition,
	}
}

// toModel rejects rows whose type or level would not survive encoding; they were written
// around the import validation.
func (r detectionRow) toModel() (models.DetectionResult, error) {
	d := models.DetectionResult{
		ID:               r.ID,
		SignalID:         r.SignalID,
		DetectionLogicID: r.DetectionLogicID,
		Type:             models.AnomalyType(r.AnomalyType),
		Level:            models.AnomalyLevel(r.AnomalyLevel),
		DetectedAt:       time.UnixMilli(r.DetectedAtMs).UTC(),
		Duration:         time.Duration(r.DurationNs),
		Confidence:       r.Confidence,
		SignalValue:      r.SignalValue,
		IsValidated:      r.IsValidated != 0,
		IsResolved:       r.IsResolved != 0,
		IsFalsePositive:  r.IsFalsePositive != 0,
		TriggerCondition: r.TriggerCondition,
	}
	if !d.Level.Valid() {
		return d, fmt.Errorf("detection %s: anomaly_level %d is out of range", r.ID, r.AnomalyLevel)
	}
	if _, err := models.ParseAnomalyType(r.AnomalyType); err != nil {
		return d, fmt.Errorf("detection %s: %w", r.ID, err)
	}
	return d, nil
}

// QueryDetectionResults returns matching results ordered by detection time, then id.
func (s *SQLStore) QueryDetectionResults(ctx context.Context, q Query) ([]models.DetectionResult, error) {
	var (
		where []string
		args  []any
	)
	if q.SignalID != "" {
		where = append(where, "signal_id = ?")
		args = append(args, q.SignalID)
	}
	if q.DetectionLogicID != "" {
		where = append(where, "detection_logic_id = ?")
		args = append(args, q.DetectionLogicID)
	}
	if q.ExcludeSignalID != "" {
		where = append(where, "signal_id <> ?")
		args = append(args, q.ExcludeSignalID)
	}
	if !q.From.IsZero() {
		// Rows hold whole milliseconds: round a sub-millisecond From up so it matches Query.Matches.
		from := q.From.UnixMilli()
		if q.From.After(time.UnixMilli(from)) {
			from++
		}
		where = append(where, "detected_at_ms >= ?")
		args = append(args, from)
	}
	if !q.To.IsZero() {
		where = append(where, "detected_at_ms <= ?")
		args = append(args, q.To.UnixMilli())
	}

	query := `SELECT * FROM detection_results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY detected_at_ms ASC, id ASC`

	var rows []detectionRow
	err := instrumentQuery("query_detection_results", func() error {
		return s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	})
	if err != nil {
		return nil, fmt.Errorf("query detection results: %w", err)
	}

	out := make([]models.DetectionResult, len(rows))
	for i, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("query detection results: %w", err)
		}
		out[i] = d
	}
	return out, nil
}

type logicParamRow struct {
	LogicID  string  `db:"logic_id"`
	Position int     `db:"position"`
	Name     string  `db:"name"`
	Type     string  `db:"type"`
	Value    float64 `db:"value"`
}

// GetDetectionLogic returns the logic with its parameters in declaration order.
func (s *SQLStore) GetDetectionLogic(ctx context.Context, id string) (*models.DetectionLogic, error) {
	logic := &models.DetectionLogic{}
	err := instrumentQuery("get_detection_logic", func() error {
		var name string
		if err := s.db.GetContext(ctx, &name, s.db.Rebind(`SELECT name FROM detection_logics WHERE id = ?`), id); err != nil {
			return err
		}
		var params []logicParamRow
		if err := s.db.SelectContext(ctx, &params,
			s.db.Rebind(`SELECT * FROM detection_logic_parameters WHERE logic_id = ? ORDER BY position ASC`), id); err != nil {
			return err
		}
		logic.ID = id
		logic.Name = name
		logic.Parameters = make([]models.LogicParameter, len(params))
		for i, p := range params {
			logic.Parameters[i] = models.LogicParameter{Name: p.Name, Type: p.Type, Value: p.Value}
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("detection logic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get detection logic %s: %w", id, err)
	}
	return logic, nil
}

// ImportDetectionResults inserts results in one transaction, skipping existing ids.
func (s *SQLStore) ImportDetectionResults(ctx context.Context, results []models.DetectionResult) (int, error) {
	inserted := 0
	err := instrumentQuery("import_detection_results", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		const insert = `
			INSERT INTO detection_results (id, signal_id, detection_logic_id, anomaly_type, anomaly_level,
				detected_at_ms, duration_ns, confidence, signal_value, is_validated, is_resolved,
				is_false_positive, trigger_condition)
			VALUES (:id, :signal_id, :detection_logic_id, :anomaly_type, :anomaly_level,
				:detected_at_ms, :duration_ns, :confidence, :signal_value, :is_validated, :is_resolved,
				:is_false_positive, :trigger_condition)
			ON CONFLICT (id) DO NOTHING`

		for _, d := range results {
			if d.ID == "" {
				d.ID = uuid.New().String()
			}
			res, err := tx.NamedExecContext(ctx, insert, toRow(d))
			if err != nil {
				return fmt.Errorf("insert detection result %s: %w", d.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("import detection results: %w", err)
	}
	return inserted, nil
}

// UpsertDetectionLogic replaces the logic and its parameter list.
func (s *SQLStore) UpsertDetectionLogic(ctx context.Context, logic *models.DetectionLogic) error {
	if logic == nil || logic.ID == "" {
		return fmt.Errorf("detection logic id is required")
	}
	err := instrumentQuery("upsert_detection_logic", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO detection_logics (id, name) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name`), logic.ID, logic.Name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM detection_logic_parameters WHERE logic_id = ?`), logic.ID); err != nil {
			return err
		}
		for i, p := range logic.Parameters {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO detection_logic_parameters (logic_id, position, name, type, value)
				VALUES (:logic_id, :position, :name, :type, :value)`,
				logicParamRow{LogicID: logic.ID, Position: i, Name: p.Name, Type: p.Type, Value: p.Value}); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("upsert detection logic %s: %w", logic.ID, err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
