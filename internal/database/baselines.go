package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

const baselineColumns = `
	id, metric_name, metric_type, metric_class, environment, p50, p95, p99,
	mean, std_dev, sample_count, window_start, window_end, calculated_at`

func scanBaseline(row rowScanner) (*models.MetricBaseline, error) {
	var b models.MetricBaseline
	err := row.Scan(
		&b.ID,
		&b.Key.Name,
		&b.Key.Type,
		&b.Key.Class,
		&b.Key.Environment,
		&b.P50,
		&b.P95,
		&b.P99,
		&b.Mean,
		&b.StdDev,
		&b.SampleCount,
		&b.WindowStart,
		&b.WindowEnd,
		&b.CalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.WindowStart = b.WindowStart.UTC()
	b.WindowEnd = b.WindowEnd.UTC()
	b.CalculatedAt = b.CalculatedAt.UTC()
	return &b, nil
}

// InsertBaseline appends a baseline row. Older rows for the same key are kept
// for history.
func (db *DB) InsertBaseline(ctx context.Context, b *models.MetricBaseline) error {
	b.WindowStart = dbTime(b.WindowStart)
	b.WindowEnd = dbTime(b.WindowEnd)
	b.CalculatedAt = dbTime(b.CalculatedAt)

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO metric_baselines (
			metric_name, metric_type, metric_class, environment, p50, p95, p99,
			mean, std_dev, sample_count, window_start, window_end, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Key.Name, b.Key.Type, b.Key.Class, b.Key.Environment,
		b.P50, b.P95, b.P99, b.Mean, b.StdDev, b.SampleCount,
		b.WindowStart, b.WindowEnd, b.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert baseline: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read baseline id: %w", err)
	}
	b.ID = id
	return nil
}

// LatestBaseline returns the newest baseline for key, or nil when none has
// been computed yet.
func (db *DB) LatestBaseline(ctx context.Context, key models.MetricKey) (*models.MetricBaseline, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+baselineColumns+` FROM metric_baselines
		WHERE metric_name = ? AND metric_type = ? AND metric_class = ? AND environment = ?
		ORDER BY calculated_at DESC, id DESC
		LIMIT 1`,
		key.Name, key.Type, key.Class, key.Environment,
	)
	b, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	return b, nil
}

// ListLatestBaselines returns the newest baseline of every key.
func (db *DB) ListLatestBaselines(ctx context.Context) ([]models.MetricBaseline, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+baselineColumns+` FROM metric_baselines b
		WHERE b.id = (
			SELECT l.id FROM metric_baselines l
			WHERE l.metric_name = b.metric_name
			  AND l.metric_type = b.metric_type
			  AND l.metric_class = b.metric_class
			  AND l.environment = b.environment
			ORDER BY l.calculated_at DESC, l.id DESC
			LIMIT 1
		)
		ORDER BY metric_type, metric_name, metric_class, environment`)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	baselines := []models.MetricBaseline{}
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, *b)
	}
	return baselines, rows.Err()
}

// CountBaselines returns the number of stored rows for key, history included.
func (db *DB) CountBaselines(ctx context.Context, key models.MetricKey) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM metric_baselines
		WHERE metric_name = ? AND metric_type = ? AND metric_class = ? AND environment = ?`,
		key.Name, key.Type, key.Class, key.Environment,
	).Scan(&count)
	return count, err
}
