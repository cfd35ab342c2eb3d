package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

const alertColumns = `
	id, type, severity, message, metric, resource, metadata, status, created_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, correlation_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert          models.Alert
		metadataJSON   string
		acknowledgedAt sql.NullTime
		resolvedAt     sql.NullTime
		correlationID  sql.NullString
	)

	err := row.Scan(
		&alert.ID,
		&alert.Type,
		&alert.Severity,
		&alert.Message,
		&alert.Metric,
		&alert.Resource,
		&metadataJSON,
		&alert.Status,
		&alert.CreatedAt,
		&acknowledgedAt,
		&alert.AcknowledgedBy,
		&resolvedAt,
		&alert.ResolvedBy,
		&correlationID,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &alert.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert metadata: %w", err)
		}
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.AcknowledgedAt = timePtr(acknowledgedAt)
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.CorrelationID = correlationID.String

	return &alert, nil
}

func queryAlerts(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}, query string, args ...interface{}) ([]models.Alert, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// CreateAlert inserts a new Active alert. ID and CreatedAt are assigned when
// left empty.
func (db *DB) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	alert.CreatedAt = dbTime(alert.CreatedAt)
	if alert.Status == "" {
		alert.Status = models.AlertStatusActive
	}
	if !alert.Severity.Valid() {
		return fmt.Errorf("invalid alert severity %q", alert.Severity)
	}

	metadata := "{}"
	if len(alert.Metadata) > 0 {
		data, err := json.Marshal(alert.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal alert metadata: %w", err)
		}
		metadata = string(data)
	}

	var correlationID interface{}
	if alert.CorrelationID != "" {
		correlationID = alert.CorrelationID
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO alerts (
			id, type, severity, severity_rank, message, metric, resource, metadata,
			status, created_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by, correlation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Type,
		alert.Severity,
		alert.Severity.Rank(),
		alert.Message,
		alert.Metric,
		alert.Resource,
		metadata,
		alert.Status,
		alert.CreatedAt,
		nullTime(alert.AcknowledgedAt),
		alert.AcknowledgedBy,
		nullTime(alert.ResolvedAt),
		alert.ResolvedBy,
		correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert retrieves a single alert by ID
func (db *DB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts newest first.
func (db *DB) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return queryAlerts(ctx, db.conn, query, args...)
}

// FindRecentActiveAlert returns the newest Active alert for (type, metric)
// created at or after since, or nil when there is none.
func (db *DB) FindRecentActiveAlert(ctx context.Context, alertType, metric string, since time.Time) (*models.Alert, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE type = ? AND metric = ? AND status = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`,
		alertType, metric, models.AlertStatusActive, dbTime(since),
	)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alert: %w", err)
	}
	return alert, nil
}

// AcknowledgeAlert moves an Active alert to Acknowledged. Acknowledging stops
// escalation because escalation only selects unacknowledged Active alerts.
func (db *DB) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (*models.Alert, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: acknowledged_by is required", ErrInvalidTransition)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE alerts
		SET status = ?, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND status = ?`,
		models.AlertStatusAcknowledged, dbTime(at), by, id, models.AlertStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if err := db.checkTransition(ctx, res, id); err != nil {
		return nil, err
	}
	return db.GetAlert(ctx, id)
}

// ResolveAlert moves an Active or Acknowledged alert to Resolved. The resolve
// time is clamped so it never precedes the creation time.
func (db *DB) ResolveAlert(ctx context.Context, id, by string, at time.Time) (*models.Alert, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: resolved_by is required", ErrInvalidTransition)
	}

	at = dbTime(at)
	res, err := db.conn.ExecContext(ctx, `
		UPDATE alerts
		SET status = ?,
		    resolved_at = CASE WHEN created_at > ? THEN created_at ELSE ? END,
		    resolved_by = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.AlertStatusResolved, at, at, by, id,
		models.AlertStatusActive, models.AlertStatusAcknowledged,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	if err := db.checkTransition(ctx, res, id); err != nil {
		return nil, err
	}
	return db.GetAlert(ctx, id)
}

func (db *DB) checkTransition(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := db.GetAlert(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// ListCorrelationCandidates returns Active alerts without a correlation created
// at or after since, oldest first.
func (db *DB) ListCorrelationCandidates(ctx context.Context, since time.Time) ([]models.Alert, error) {
	return queryAlerts(ctx, db.conn, `
		SELECT `+alertColumns+` FROM alerts
		WHERE status = ? AND correlation_id IS NULL AND created_at >= ?
		ORDER BY created_at, id`,
		models.AlertStatusActive, dbTime(since),
	)
}

// ListEscalationCandidates returns Active, unacknowledged alerts at or above
// minSeverity, optionally restricted to one alert type.
func (db *DB) ListEscalationCandidates(ctx context.Context, alertType string, minSeverity models.Severity) ([]models.Alert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM alerts
		WHERE status = ? AND acknowledged_at IS NULL AND severity_rank >= ?`
	args := []interface{}{models.AlertStatusActive, minSeverity.Rank()}
	if alertType != "" {
		query += ` AND type = ? COLLATE NOCASE`
		args = append(args, alertType)
	}
	query += ` ORDER BY created_at, id`
	return queryAlerts(ctx, db.conn, query, args...)
}

// CountAlerts returns the number of alerts in the given status, or all
// alerts when status is empty.
func (db *DB) CountAlerts(ctx context.Context, status models.AlertStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count)
	} else {
		err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE status = ?", status).Scan(&count)
	}
	return count, err
}
