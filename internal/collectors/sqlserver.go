package collectors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

// SQLServerSource reads metric history from the ERP's SQL Server database.
// The table carries one row per sample:
//
//	metric_name, metric_type, metric_class, environment, resource, sampled_at, value
type SQLServerSource struct {
	db      *sql.DB
	query   string
	timeout time.Duration
}

func NewSQLServerSource(cfg config.MetricSourceConfig) (*SQLServerSource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("metric_source.dsn is required for sqlserver")
	}
	table, err := quoteTable(cfg.Table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLServerSource{
		db:      db,
		query:   sampleQuery(table),
		timeout: cfg.Timeout,
	}, nil
}

func sampleQuery(table string) string {
	return fmt.Sprintf(`SELECT sampled_at, value, resource FROM %s
WHERE metric_name = @p1 AND metric_type = @p2 AND metric_class = @p3 AND environment = @p4
  AND sampled_at >= @p5 AND sampled_at <= @p6
ORDER BY sampled_at`, table)
}

func (s *SQLServerSource) Sample(ctx context.Context, key models.MetricKey, from, to time.Time) ([]models.MetricSample, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(ctx, s.query, key.Name, key.Type, key.Class, key.Environment, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query mssql samples for %s: %w", key, err)
	}
	defer rows.Close()

	samples := []models.MetricSample{}
	for rows.Next() {
		var (
			sample   models.MetricSample
			resource sql.NullString
		)
		if err := rows.Scan(&sample.Timestamp, &sample.Value, &resource); err != nil {
			return nil, fmt.Errorf("scan mssql sample: %w", err)
		}
		sample.Key = key
		sample.Timestamp = sample.Timestamp.UTC()
		sample.Resource = resource.String
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mssql samples: %w", err)
	}
	return samples, nil
}

func (s *SQLServerSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mssql: %w", err)
	}
	return nil
}

func (s *SQLServerSource) Close() error {
	return s.db.Close()
}
