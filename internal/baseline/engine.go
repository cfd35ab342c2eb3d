package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/collectors"
	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/metrics"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

// ErrInsufficientData is returned when a key has fewer samples than the
// configured minimum. It is a normal outcome, not a failure.
var ErrInsufficientData = errors.New("insufficient data for baseline")

// ErrSource marks failures of the metric source rather than the store.
var ErrSource = errors.New("metric source failed")

// Compute summarises samples into a baseline. Values are sorted before any
// arithmetic so that the result does not depend on sample order.
func Compute(key models.MetricKey, samples []models.MetricSample, windowStart, windowEnd time.Time, minSamples int) (*models.MetricBaseline, error) {
	if minSamples < 2 {
		minSamples = 2
	}
	if len(samples) < minSamples {
		return nil, fmt.Errorf("%w: %s has %d samples, need %d", ErrInsufficientData, key, len(samples), minSamples)
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	sorted := sortedCopy(values)
	m := mean(sorted)

	return &models.MetricBaseline{
		Key:         key,
		P50:         percentile(sorted, 50),
		P95:         percentile(sorted, 95),
		P99:         percentile(sorted, 99),
		Mean:        m,
		StdDev:      stdDev(sorted, m),
		SampleCount: len(sorted),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}, nil
}

type Store interface {
	InsertBaseline(ctx context.Context, b *models.MetricBaseline) error
}

// Engine recomputes baselines for the metric catalogue.
type Engine struct {
	store      Store
	source     collectors.MetricSource
	catalogue  []config.MetricDefinition
	windowDays int
	minSamples int
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(store Store, source collectors.MetricSource, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		source:     source,
		catalogue:  cfg.Metrics,
		windowDays: cfg.Baseline.WindowDays,
		minSamples: cfg.Baseline.MinSamples,
		logger:     logger.Named("baseline"),
		now:        time.Now,
	}
}

// Recalculate reads the trailing window for key and appends a new baseline.
func (e *Engine) Recalculate(ctx context.Context, key models.MetricKey) (*models.MetricBaseline, error) {
	windowEnd := e.now().UTC()
	windowStart := windowEnd.AddDate(0, 0, -e.windowDays)

	samples, err := e.source.Sample(ctx, key, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrSource, key, err)
	}

	b, err := Compute(key, samples, windowStart, windowEnd, e.minSamples)
	if err != nil {
		return nil, err
	}
	b.CalculatedAt = windowEnd

	if err := e.store.InsertBaseline(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Report summarises one recalculation pass.
type Report struct {
	Computed     []models.MetricBaseline `json:"computed"`
	Insufficient []string                `json:"insufficient_data"`
	Failed       map[string]string       `json:"failed,omitempty"`
}

// RecalculateAll recomputes every catalogue key. Keys with too few samples are
// listed in the report. A source failure for one key does not stop the pass,
// but a store failure aborts it.
func (e *Engine) RecalculateAll(ctx context.Context) (*Report, error) {
	report := &Report{
		Computed:     []models.MetricBaseline{},
		Insufficient: []string{},
		Failed:       map[string]string{},
	}

	for _, def := range e.catalogue {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		key := def.Key()
		b, err := e.Recalculate(ctx, key)
		switch {
		case errors.Is(err, ErrInsufficientData):
			metrics.BaselinesTotal.WithLabelValues("insufficient_data").Inc()
			e.logger.Info("Skipping baseline", zap.String("metric", key.String()), zap.Error(err))
			report.Insufficient = append(report.Insufficient, key.String())
		case err != nil && !errors.Is(err, ErrSource):
			metrics.BaselinesTotal.WithLabelValues("failed").Inc()
			return report, err
		case err != nil:
			metrics.BaselinesTotal.WithLabelValues("failed").Inc()
			e.logger.Warn("Failed to read samples", zap.String("metric", key.String()), zap.Error(err))
			report.Failed[key.String()] = err.Error()
		default:
			metrics.BaselinesTotal.WithLabelValues("computed").Inc()
			report.Computed = append(report.Computed, *b)
		}
	}

	e.logger.Info("Baselines recalculated",
		zap.Int("computed", len(report.Computed)),
		zap.Int("insufficient", len(report.Insufficient)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// Run is the scheduled unit of work.
func (e *Engine) Run(ctx context.Context) error {
	_, err := e.RecalculateAll(ctx)
	return err
}
