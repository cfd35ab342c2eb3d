package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyEscalated  = errors.New("escalation tier already recorded")
)

const schema = `
CREATE TABLE IF NOT EXISTS alert_correlations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	first_detected_at DATETIME NOT NULL,
	alert_count INTEGER NOT NULL DEFAULT 0,
	confidence INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	resolved_at DATETIME,
	closed_at DATETIME,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_correlations_status ON alert_correlations(status, first_detected_at);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	severity_rank INTEGER NOT NULL,
	message TEXT NOT NULL,
	metric TEXT NOT NULL DEFAULT '',
	resource TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	acknowledged_at DATETIME,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolved_at DATETIME,
	resolved_by TEXT NOT NULL DEFAULT '',
	correlation_id TEXT REFERENCES alert_correlations(id)
);

CREATE INDEX IF NOT EXISTS idx_alerts_status_created ON alerts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(type, metric, status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_correlation ON alerts(correlation_id);

CREATE TABLE IF NOT EXISTS metric_baselines (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_name TEXT NOT NULL,
	metric_type TEXT NOT NULL,
	metric_class TEXT NOT NULL DEFAULT '',
	environment TEXT NOT NULL,
	p50 REAL NOT NULL,
	p95 REAL NOT NULL,
	p99 REAL NOT NULL,
	mean REAL NOT NULL,
	std_dev REAL NOT NULL,
	sample_count INTEGER NOT NULL,
	window_start DATETIME NOT NULL,
	window_end DATETIME NOT NULL,
	calculated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_baselines_key ON metric_baselines(metric_name, metric_type, metric_class, environment, calculated_at DESC);

CREATE TABLE IF NOT EXISTS alert_escalation_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	alert_type TEXT NOT NULL DEFAULT '',
	min_severity TEXT NOT NULL,
	tiers TEXT NOT NULL,
	notify_email INTEGER NOT NULL DEFAULT 0,
	notify_chat INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_escalations (
	id TEXT PRIMARY KEY,
	alert_id TEXT NOT NULL REFERENCES alerts(id),
	rule_id TEXT NOT NULL,
	tier INTEGER NOT NULL,
	recipients TEXT NOT NULL,
	elapsed_minutes INTEGER NOT NULL,
	email_sent INTEGER NOT NULL DEFAULT 0,
	chat_sent INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	escalated_at DATETIME NOT NULL,
	UNIQUE(alert_id, rule_id, tier)
);

CREATE INDEX IF NOT EXISTS idx_escalations_alert ON alert_escalations(alert_id, escalated_at);
`

type DB struct {
	conn *sql.DB
}

// New opens the SQLite database at dbPath and initializes the schema.
func New(dbPath string) (*DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", dbPath, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// dbTime normalises timestamps before they are written so that the textual
// DATETIME representation sorts and compares chronologically.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func severityFromRank(rank int) models.Severity {
	switch rank {
	case 3:
		return models.SeverityCritical
	case 2:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
