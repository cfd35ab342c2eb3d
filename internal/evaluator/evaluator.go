package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/collectors"
	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/metrics"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

type Store interface {
	LatestBaseline(ctx context.Context, key models.MetricKey) (*models.MetricBaseline, error)
	FindRecentActiveAlert(ctx context.Context, alertType, metric string, since time.Time) (*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

type raised struct {
	alertID   string
	createdAt time.Time
}

// Evaluator turns metric samples into alerts.
type Evaluator struct {
	store       Store
	source      collectors.MetricSource
	cfg         *config.Config
	publisher   events.Publisher
	logger      *zap.Logger
	suppression time.Duration
	lookback    time.Duration

	// mu serializes the suppression check with the insert it guards. The
	// sampling cycle and sample ingestion over HTTP share one Evaluator.
	mu sync.Mutex
	// recent remembers the last alert raised per (type, metric).
	recent *expirable.LRU[string, raised]
	now    func() time.Time
}

func New(store Store, source collectors.MetricSource, cfg *config.Config, publisher events.Publisher, logger *zap.Logger) *Evaluator {
	size := cfg.Evaluator.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.Evaluator.SuppressionWindow
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Evaluator{
		store:       store,
		source:      source,
		cfg:         cfg,
		publisher:   publisher,
		logger:      logger.Named("evaluator"),
		suppression: cfg.Evaluator.SuppressionWindow,
		lookback:    cfg.Evaluator.SampleLookback,
		recent:      expirable.NewLRU[string, raised](size, nil, ttl),
		now:         time.Now,
	}
}

// Outcome describes what Evaluate did with a sample.
type Outcome struct {
	Result     Result        `json:"result"`
	Alert      *models.Alert `json:"alert,omitempty"`
	Suppressed bool          `json:"suppressed"`
}

// Evaluate classifies a sample against the latest baseline, or against the
// fixed thresholds when none exists, and raises an alert for Warning and
// above unless an Active alert for the same type and metric was raised
// within the suppression window.
func (e *Evaluator) Evaluate(ctx context.Context, sample models.MetricSample) (*Outcome, error) {
	def, known := e.cfg.FindMetric(sample.Key)

	b, err := e.store.LatestBaseline(ctx, sample.Key)
	if err != nil {
		return nil, err
	}

	var result Result
	if b != nil {
		result = Classify(sample.Value, b)
	} else {
		result = ClassifyThreshold(sample.Value, def)
	}

	outcome := &Outcome{Result: result}
	severity, raise := result.Classification.Severity()
	if !raise {
		return outcome, nil
	}

	alertType := sample.Key.Name
	resource := sample.Resource
	if known {
		if def.AlertType != "" {
			alertType = def.AlertType
		}
		if resource == "" {
			resource = def.Resource
		}
	}
	metric := sample.Key.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	suppressed, err := e.suppressed(ctx, alertType, metric, now)
	if err != nil {
		return nil, err
	}
	if suppressed {
		metrics.AlertsSuppressedTotal.Inc()
		e.logger.Debug("Anomaly suppressed",
			zap.String("type", alertType),
			zap.String("metric", metric),
		)
		outcome.Suppressed = true
		return outcome, nil
	}

	alert := &models.Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   message(alertType, resource, sample.Value, result, b),
		Metric:    metric,
		Resource:  resource,
		Metadata:  metadata(sample, result, b),
		Status:    models.AlertStatusActive,
		CreatedAt: now,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	e.recent.Add(cacheKey(alertType, metric), raised{alertID: alert.ID, createdAt: alert.CreatedAt})

	metrics.AlertsCreatedTotal.WithLabelValues(alert.Type, string(alert.Severity)).Inc()
	e.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.String("classification", string(result.Classification)),
	)
	if err := e.publisher.Publish(events.AlertCreated, alert); err != nil {
		e.logger.Warn("Failed to publish event", zap.String("event", events.AlertCreated), zap.Error(err))
	}

	outcome.Alert = alert
	return outcome, nil
}

func (e *Evaluator) suppressed(ctx context.Context, alertType, metric string, now time.Time) (bool, error) {
	if e.suppression <= 0 {
		return false, nil
	}
	key := cacheKey(alertType, metric)
	since := now.Add(-e.suppression)

	if hit, ok := e.recent.Get(key); ok {
		if hit.createdAt.Before(since) {
			e.recent.Remove(key)
		} else {
			alert, err := e.store.GetAlert(ctx, hit.alertID)
			if err == nil && alert.Status == models.AlertStatusActive {
				return true, nil
			}
			e.recent.Remove(key)
		}
	}

	existing, err := e.store.FindRecentActiveAlert(ctx, alertType, metric, since)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	e.recent.Add(key, raised{alertID: existing.ID, createdAt: existing.CreatedAt})
	return true, nil
}

// Sweep evaluates the newest sample of every catalogue metric. Source errors
// are logged per metric; store errors abort the sweep.
func (e *Evaluator) Sweep(ctx context.Context) (int, error) {
	created := 0
	now := e.now()
	for _, def := range e.cfg.Metrics {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		key := def.Key()
		sample, err := collectors.Latest(ctx, e.source, key, now, e.lookback)
		if err != nil {
			e.logger.Warn("Failed to sample metric", zap.String("metric", key.String()), zap.Error(err))
			continue
		}
		if sample == nil {
			continue
		}

		outcome, err := e.Evaluate(ctx, *sample)
		if err != nil {
			return created, fmt.Errorf("evaluate %s: %w", key, err)
		}
		if outcome.Alert != nil {
			created++
		}
	}
	return created, nil
}

// Run is the scheduled sampling cycle.
func (e *Evaluator) Run(ctx context.Context) error {
	_, err := e.Sweep(ctx)
	return err
}

func cacheKey(alertType, metric string) string {
	return alertType + "|" + metric
}

func message(alertType, resource string, value float64, result Result, b *models.MetricBaseline) string {
	subject := alertType
	if resource != "" {
		subject = fmt.Sprintf("%s on %s", alertType, resource)
	}
	if b == nil {
		return fmt.Sprintf("%s: value %.2f crossed the %s threshold", subject, value, result.Classification)
	}
	return fmt.Sprintf("%s: value %.2f is %+.1f%% from baseline mean %.2f (z=%.2f)",
		subject, value, result.PercentChange, b.Mean, result.ZScore)
}

func metadata(sample models.MetricSample, result Result, b *models.MetricBaseline) map[string]interface{} {
	md := map[string]interface{}{
		"classification": string(result.Classification),
		"value":          finite(sample.Value),
		"sampled_at":     sample.Timestamp.UTC().Format(time.RFC3339),
		"metric_name":    sample.Key.Name,
		"metric_type":    sample.Key.Type,
		"environment":    sample.Key.Environment,
	}
	if sample.Key.Class != "" {
		md["metric_class"] = sample.Key.Class
	}
	if b != nil {
		md["baseline_id"] = b.ID
		md["baseline_mean"] = finite(b.Mean)
		md["baseline_std_dev"] = finite(b.StdDev)
		md["baseline_p95"] = finite(b.P95)
		md["percent_change"] = finite(result.PercentChange)
		md["z_score"] = finite(result.ZScore)
	}
	return md
}
