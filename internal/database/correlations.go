package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

// ErrCorrelationTooSmall is returned when fewer than two candidate alerts could
// be stamped, which happens when another writer claimed them first.
var ErrCorrelationTooSmall = errors.New("correlation needs at least two alerts")

const correlationColumns = `
	id, title, severity, status, first_detected_at, alert_count, confidence,
	reason, resolved_at, closed_at, updated_at`

func scanCorrelation(row rowScanner) (*models.AlertCorrelation, error) {
	var (
		c          models.AlertCorrelation
		resolvedAt sql.NullTime
		closedAt   sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Severity,
		&c.Status,
		&c.FirstDetectedAt,
		&c.AlertCount,
		&c.Confidence,
		&c.Reason,
		&resolvedAt,
		&closedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.FirstDetectedAt = c.FirstDetectedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.ResolvedAt = timePtr(resolvedAt)
	c.ClosedAt = timePtr(closedAt)
	return &c, nil
}

// stampAlerts points each still-uncorrelated Active alert at correlationID and
// returns how many rows changed.
func stampAlerts(ctx context.Context, tx *sql.Tx, correlationID string, alertIDs []string) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE alerts SET correlation_id = ?
		WHERE id = ? AND correlation_id IS NULL AND status = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare stamp: %w", err)
	}
	defer stmt.Close()

	stamped := 0
	for _, id := range alertIDs {
		res, err := stmt.ExecContext(ctx, correlationID, id, models.AlertStatusActive)
		if err != nil {
			return stamped, fmt.Errorf("failed to stamp alert %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return stamped, err
		}
		stamped += int(n)
	}
	return stamped, nil
}

// refreshStats recomputes the derived fields of a correlation from the alerts
// that reference it. AlertCount is never incremented blindly.
func refreshStats(ctx context.Context, tx *sql.Tx, correlationID string, confidence int, now time.Time) (int, error) {
	var count, maxRank int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(severity_rank), 0)
		FROM alerts WHERE correlation_id = ?`, correlationID,
	).Scan(&count, &maxRank)
	if err != nil {
		return 0, fmt.Errorf("failed to count correlation members: %w", err)
	}

	var first time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT created_at FROM alerts WHERE correlation_id = ?
		ORDER BY created_at LIMIT 1`, correlationID,
	).Scan(&first)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read first member: %w", err)
	}

	query := `
		UPDATE alert_correlations
		SET alert_count = ?, severity = ?, confidence = MAX(confidence, ?), updated_at = ?`
	args := []interface{}{count, severityFromRank(maxRank), confidence, dbTime(now)}
	if !first.IsZero() {
		query += `, first_detected_at = ?`
		args = append(args, dbTime(first))
	}
	query += ` WHERE id = ?`
	args = append(args, correlationID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("failed to update correlation stats: %w", err)
	}
	return count, nil
}

// CreateCorrelation inserts an Open correlation and stamps the given alerts
// with it in one transaction. Count, severity and first-detected time are
// derived from the alerts that were actually stamped.
func (db *DB) CreateCorrelation(ctx context.Context, c *models.AlertCorrelation, alertIDs []string) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	if c.FirstDetectedAt.IsZero() {
		c.FirstDetectedAt = c.UpdatedAt
	}
	if c.Severity == "" {
		c.Severity = models.SeverityInfo
	}
	c.Status = models.CorrelationStatusOpen

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alert_correlations (
				id, title, severity, status, first_detected_at, alert_count,
				confidence, reason, updated_at
			) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			c.ID, c.Title, c.Severity, c.Status, dbTime(c.FirstDetectedAt),
			c.Confidence, c.Reason, dbTime(c.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert correlation: %w", err)
		}

		stamped, err := stampAlerts(ctx, tx, c.ID, alertIDs)
		if err != nil {
			return err
		}
		if stamped < 2 {
			return ErrCorrelationTooSmall
		}

		_, err = refreshStats(ctx, tx, c.ID, c.Confidence, c.UpdatedAt)
		return err
	})
	if err != nil {
		return err
	}

	stored, err := db.GetCorrelation(ctx, c.ID)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

// AttachAlerts adds uncorrelated alerts to an Open correlation. The stored
// confidence only ever grows. It returns the number of alerts attached.
func (db *DB) AttachAlerts(ctx context.Context, correlationID string, alertIDs []string, confidence int, now time.Time) (int, error) {
	var attached int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var status models.CorrelationStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM alert_correlations WHERE id = ?`, correlationID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read correlation: %w", err)
		}
		if status != models.CorrelationStatusOpen {
			return ErrInvalidTransition
		}

		attached, err = stampAlerts(ctx, tx, correlationID, alertIDs)
		if err != nil {
			return err
		}
		if attached == 0 {
			return nil
		}
		_, err = refreshStats(ctx, tx, correlationID, confidence, now)
		return err
	})
	return attached, err
}

func (db *DB) GetCorrelation(ctx context.Context, id string) (*models.AlertCorrelation, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+correlationColumns+` FROM alert_correlations WHERE id = ?`, id)
	c, err := scanCorrelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query correlation: %w", err)
	}
	return c, nil
}

// ListCorrelations returns correlations newest first, optionally filtered by
// status.
func (db *DB) ListCorrelations(ctx context.Context, status models.CorrelationStatus) ([]models.AlertCorrelation, error) {
	query := `SELECT ` + correlationColumns + ` FROM alert_correlations`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY first_detected_at DESC, id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	defer rows.Close()

	correlations := []models.AlertCorrelation{}
	for rows.Next() {
		c, err := scanCorrelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		correlations = append(correlations, *c)
	}
	return correlations, rows.Err()
}

// ListCorrelationAlerts returns the member alerts of a correlation, oldest
// first.
func (db *DB) ListCorrelationAlerts(ctx context.Context, correlationID string) ([]models.Alert, error) {
	if _, err := db.GetCorrelation(ctx, correlationID); err != nil {
		return nil, err
	}
	return queryAlerts(ctx, db.conn, `
		SELECT `+alertColumns+` FROM alerts
		WHERE correlation_id = ?
		ORDER BY created_at, id`, correlationID)
}

// ResolveCorrelation moves an Open correlation to Resolved and resolves every
// member alert that is not resolved yet.
func (db *DB) ResolveCorrelation(ctx context.Context, id, by string, at time.Time) (*models.AlertCorrelation, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: resolved_by is required", ErrInvalidTransition)
	}

	at = dbTime(at)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE alert_correlations
			SET status = ?, resolved_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			models.CorrelationStatusResolved, at, at, id, models.CorrelationStatusOpen,
		)
		if err != nil {
			return fmt.Errorf("failed to resolve correlation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM alert_correlations WHERE id = ?`, id).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return ErrInvalidTransition
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE alerts
			SET status = ?,
			    resolved_at = CASE WHEN created_at > ? THEN created_at ELSE ? END,
			    resolved_by = ?
			WHERE correlation_id = ? AND status IN (?, ?)`,
			models.AlertStatusResolved, at, at, by, id,
			models.AlertStatusActive, models.AlertStatusAcknowledged,
		)
		if err != nil {
			return fmt.Errorf("failed to resolve correlation members: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.GetCorrelation(ctx, id)
}

// ResolveDrainedCorrelations resolves Open correlations whose member alerts
// are all Resolved and returns their IDs.
func (db *DB) ResolveDrainedCorrelations(ctx context.Context, at time.Time) ([]string, error) {
	at = dbTime(at)
	var ids []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT c.id FROM alert_correlations c
			WHERE c.status = ?
			  AND EXISTS (SELECT 1 FROM alerts a WHERE a.correlation_id = c.id)
			  AND NOT EXISTS (
				SELECT 1 FROM alerts a WHERE a.correlation_id = c.id AND a.status != ?
			  )`,
			models.CorrelationStatusOpen, models.AlertStatusResolved,
		)
		if err != nil {
			return fmt.Errorf("failed to query drained correlations: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			_, err := tx.ExecContext(ctx, `
				UPDATE alert_correlations SET status = ?, resolved_at = ?, updated_at = ?
				WHERE id = ?`,
				models.CorrelationStatusResolved, at, at, id,
			)
			if err != nil {
				return fmt.Errorf("failed to resolve correlation %s: %w", id, err)
			}
		}
		return nil
	})
	return ids, err
}

// CloseResolvedCorrelations closes correlations resolved before the cutoff.
func (db *DB) CloseResolvedCorrelations(ctx context.Context, before, at time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE alert_correlations SET status = ?, closed_at = ?, updated_at = ?
		WHERE status = ? AND resolved_at IS NOT NULL AND resolved_at < ?`,
		models.CorrelationStatusClosed, dbTime(at), dbTime(at),
		models.CorrelationStatusResolved, dbTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close correlations: %w", err)
	}
	return res.RowsAffected()
}
