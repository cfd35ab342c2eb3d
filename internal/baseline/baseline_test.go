package baseline

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

var (
	now    = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cpuKey = models.MetricKey{Name: "cpu_usage", Type: "sql_health", Environment: "prod"}
)

func series(values ...float64) []models.MetricSample {
	samples := make([]models.MetricSample, len(values))
	for i, v := range values {
		samples[i] = models.MetricSample{Key: cpuKey, Timestamp: now.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return samples
}

func TestComputeStatistics(t *testing.T) {
	b, err := Compute(cpuKey, series(2, 4, 4, 4, 5, 5, 7, 9), now.AddDate(0, 0, -14), now, 2)
	require.NoError(t, err)

	assert.Equal(t, 5.0, b.Mean)
	assert.Equal(t, 2.0, b.StdDev, "population standard deviation")
	assert.Equal(t, 4.5, b.P50)
	assert.InDelta(t, 8.3, b.P95, 1e-9)
	assert.InDelta(t, 8.86, b.P99, 1e-9)
	assert.Equal(t, 8, b.SampleCount)
}

func TestComputeIsOrderIndependent(t *testing.T) {
	values := []float64{0.1, 0.2, 0.3, 1e9, -7.25, 3.3333, 42.42, 0.7}
	reversed := make([]float64, len(values))
	for i, v := range values {
		reversed[len(values)-1-i] = v
	}

	a, err := Compute(cpuKey, series(values...), now, now, 2)
	require.NoError(t, err)
	b, err := Compute(cpuKey, series(reversed...), now, now, 2)
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(a.Mean), math.Float64bits(b.Mean))
	assert.Equal(t, math.Float64bits(a.StdDev), math.Float64bits(b.StdDev))
	assert.Equal(t, math.Float64bits(a.P95), math.Float64bits(b.P95))
	assert.Equal(t, math.Float64bits(a.P99), math.Float64bits(b.P99))
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(cpuKey, series(42), now, now, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Compute(cpuKey, series(1, 2, 3), now, now, 5)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPercentileEdges(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.Equal(t, 1.0, percentile([]float64{1, 2, 3}, 0))
	assert.Equal(t, 3.0, percentile([]float64{1, 2, 3}, 100))
}

type fakeSource map[models.MetricKey][]models.MetricSample

func (f fakeSource) Sample(ctx context.Context, key models.MetricKey, from, to time.Time) ([]models.MetricSample, error) {
	samples, ok := f[key]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return samples, nil
}

func newEngine(t *testing.T, source fakeSource, defs ...config.MetricDefinition) (*Engine, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "baseline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Metrics:  defs,
		Baseline: config.BaselineConfig{WindowDays: 14, MinSamples: 2},
	}
	engine := NewEngine(db, source, cfg, zap.NewNop())
	engine.now = func() time.Time { return now }
	return engine, db
}

func TestRecalculateAllReportsPerKey(t *testing.T) {
	sparse := models.MetricKey{Name: "blocked_sessions", Type: "sql_health", Environment: "prod"}
	down := models.MetricKey{Name: "active_sessions", Type: "session", Environment: "prod"}

	engine, db := newEngine(t,
		fakeSource{cpuKey: series(40, 50, 60), sparse: series(1)},
		config.MetricDefinition{Name: cpuKey.Name, Type: cpuKey.Type, Environment: cpuKey.Environment},
		config.MetricDefinition{Name: sparse.Name, Type: sparse.Type, Environment: sparse.Environment},
		config.MetricDefinition{Name: down.Name, Type: down.Type, Environment: down.Environment},
	)

	report, err := engine.RecalculateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Computed, 1)
	assert.Equal(t, []string{sparse.String()}, report.Insufficient)
	assert.Contains(t, report.Failed, down.String())

	latest, err := db.LatestBaseline(context.Background(), cpuKey)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 50.0, latest.Mean)
	assert.Equal(t, now.AddDate(0, 0, -14), latest.WindowStart)
	assert.Equal(t, now, latest.CalculatedAt)

	none, err := db.LatestBaseline(context.Background(), sparse)
	require.NoError(t, err)
	assert.Nil(t, none, "no degenerate baseline is stored")
}

func TestRecalculateAppendsHistory(t *testing.T) {
	engine, db := newEngine(t, fakeSource{cpuKey: series(40, 50, 60)})

	_, err := engine.Recalculate(context.Background(), cpuKey)
	require.NoError(t, err)
	engine.now = func() time.Time { return now.Add(6 * time.Hour) }
	_, err = engine.Recalculate(context.Background(), cpuKey)
	require.NoError(t, err)

	count, err := db.CountBaselines(context.Background(), cpuKey)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
