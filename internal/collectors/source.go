package collectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

// MetricSource returns the recorded series for one metric key. Samples are
// ordered by timestamp, oldest first.
type MetricSource interface {
	Sample(ctx context.Context, key models.MetricKey, from, to time.Time) ([]models.MetricSample, error)
}

// New builds the metric source selected by cfg.Kind.
func New(cfg config.MetricSourceConfig) (MetricSource, error) {
	switch strings.ToLower(cfg.Kind) {
	case "sqlserver", "mssql":
		return NewSQLServerSource(cfg)
	case "http":
		return NewHTTPSource(cfg)
	default:
		return nil, fmt.Errorf("unsupported metric source kind %q", cfg.Kind)
	}
}

// Latest returns the newest sample of key within lookback of now, or nil when
// the source has nothing recent.
func Latest(ctx context.Context, src MetricSource, key models.MetricKey, now time.Time, lookback time.Duration) (*models.MetricSample, error) {
	samples, err := src.Sample(ctx, key, now.Add(-lookback), now)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	latest := samples[0]
	for _, s := range samples[1:] {
		if !s.Timestamp.Before(latest.Timestamp) {
			latest = s
		}
	}
	latest.Key = key
	return &latest, nil
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isSafeIdentifier(value string) bool {
	return identifierPattern.MatchString(value)
}

// quoteTable validates "table" or "schema.table" and brackets each part.
func quoteTable(table string) (string, error) {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	for i, part := range parts {
		if !isSafeIdentifier(part) {
			return "", fmt.Errorf("invalid table name %q", table)
		}
		parts[i] = "[" + part + "]"
	}
	if len(parts) == 1 {
		return "[dbo]." + parts[0], nil
	}
	return parts[0] + "." + parts[1], nil
}
