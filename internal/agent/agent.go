package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/llm"
	"github.com/emirozbir/erp-sentinel/internal/models"
	"github.com/emirozbir/erp-sentinel/internal/ui"
)

// ErrDisabled is returned by NewAgent when no LLM API key is configured.
var ErrDisabled = errors.New("incident analysis is disabled: no LLM API key configured")

type Store interface {
	GetCorrelation(ctx context.Context, id string) (*models.AlertCorrelation, error)
	ListCorrelationAlerts(ctx context.Context, correlationID string) ([]models.Alert, error)
	ListLatestBaselines(ctx context.Context) ([]models.MetricBaseline, error)
}

type Agent struct {
	store     Store
	llmClient llm.Client
	provider  string
	logger    *zap.Logger
	now       func() time.Time
}

func NewAgent(store Store, cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if cfg.LLM.APIKey == "" {
		return nil, ErrDisabled
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return New(store, llmClient, cfg.LLM.Provider, logger), nil
}

func New(store Store, client llm.Client, provider string, logger *zap.Logger) *Agent {
	return &Agent{
		store:     store,
		llmClient: client,
		provider:  provider,
		logger:    logger.Named("agent"),
		now:       time.Now,
	}
}

// AnalyzeCorrelation asks the LLM for a root cause of the incident behind a
// correlation. progress may be nil.
func (a *Agent) AnalyzeCorrelation(ctx context.Context, correlationID string, progress ui.ProgressReporter) (*models.IncidentAnalysis, error) {
	if progress == nil {
		progress = &NoOpProgressReporter{}
	}
	defer progress.Stop()

	a.logger.Info("Starting incident analysis", zap.String("correlation_id", correlationID))

	progress.Update("Loading correlation")
	correlation, err := a.store.GetCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	alerts, err := a.store.ListCorrelationAlerts(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	progress.Update("Loading baselines")
	baselines, err := a.store.ListLatestBaselines(ctx)
	if err != nil {
		return nil, err
	}

	prompt := a.buildAnalysisPrompt(correlation, alerts, relevantBaselines(alerts, baselines))

	progress.Update(fmt.Sprintf("Asking %s for a root cause", a.provider))
	analysisText, err := a.llmClient.Analyze(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("LLM analysis failed: %w", err)
	}

	result := a.parseAnalysisResponse(correlation, analysisText)

	a.logger.Info("Incident analysis completed",
		zap.String("correlation_id", correlationID),
		zap.String("root_cause", result.RootCause),
		zap.String("confidence", result.Confidence),
	)
	return result, nil
}

// relevantBaselines keeps the baselines of metrics that raised a member alert.
func relevantBaselines(alerts []models.Alert, baselines []models.MetricBaseline) []models.MetricBaseline {
	metrics := make(map[string]bool, len(alerts))
	for _, alert := range alerts {
		metrics[alert.Metric] = true
	}
	var out []models.MetricBaseline
	for _, b := range baselines {
		if metrics[b.Key.String()] {
			out = append(out, b)
		}
	}
	return out
}

func (a *Agent) buildAnalysisPrompt(c *models.AlertCorrelation, alerts []models.Alert, baselines []models.MetricBaseline) string {
	return fmt.Sprintf(`You are an expert DBA and ERP operator analyzing an incident on a SQL Server backed ERP system. Several alerts were grouped because they likely share a root cause. Analyze the data and provide a root cause analysis.

INCIDENT:
- Title: %s
- Severity: %s
- First detected: %s
- Alerts: %d
- Grouping confidence: %d/100
- Grouping reason: %s

ALERTS:
%s
BASELINES (normal behaviour of the affected metrics):
%s
TASK:
1. Identify the most likely root cause
2. Provide a confidence level (high/medium/low)
3. Explain your reasoning
4. Create a timeline of key events
5. Provide actionable recommendations, with a T-SQL statement or command where useful

Please respond in JSON format with the following structure:
{
  "root_cause": "brief description",
  "confidence": "high|medium|low",
  "reasoning": "detailed explanation",
  "timeline": [{"timestamp": "RFC3339", "event": "...", "details": "..."}],
  "recommendations": [
    {"priority": "high|medium|low", "action": "...", "details": "...", "command": "..."}
  ]
}`,
		c.Title,
		c.Severity,
		c.FirstDetectedAt.Format(time.RFC3339),
		c.AlertCount,
		c.Confidence,
		c.Reason,
		formatAlerts(alerts),
		formatBaselines(baselines),
	)
}

func formatAlerts(alerts []models.Alert) string {
	if len(alerts) == 0 {
		return "No member alerts found\n"
	}
	var sb strings.Builder
	for i, alert := range alerts {
		if i >= 25 {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(alerts)-i))
			break
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s (%s, %s) on %s: %s\n",
			alert.CreatedAt.Format(time.RFC3339),
			alert.Type,
			alert.Severity,
			alert.Status,
			orNone(alert.Resource),
			alert.Message,
		))
	}
	return sb.String()
}

func formatBaselines(baselines []models.MetricBaseline) string {
	if len(baselines) == 0 {
		return "No baselines available\n"
	}
	var sb strings.Builder
	for _, b := range baselines {
		sb.WriteString(fmt.Sprintf("- %s: mean=%.2f stddev=%.2f p50=%.2f p95=%.2f p99=%.2f (%d samples)\n",
			b.Key, b.Mean, b.StdDev, b.P50, b.P95, b.P99, b.SampleCount))
	}
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "unknown resource"
	}
	return s
}

type llmResponse struct {
	RootCause  string `json:"root_cause"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	Timeline   []struct {
		Timestamp string `json:"timestamp"`
		Event     string `json:"event"`
		Details   string `json:"details"`
	} `json:"timeline"`
	Recommendations []models.Recommendation `json:"recommendations"`
}

// parseAnalysisResponse extracts the JSON object from the model output. When
// the output is not valid JSON the raw text is kept as the reasoning.
func (a *Agent) parseAnalysisResponse(c *models.AlertCorrelation, text string) *models.IncidentAnalysis {
	result := &models.IncidentAnalysis{
		CorrelationID: c.ID,
		Title:         c.Title,
		Severity:      c.Severity,
		AlertCount:    c.AlertCount,
		Timeline:      []models.TimelineEvent{},
		Provider:      a.provider,
		GeneratedAt:   a.now(),
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		a.logger.Warn("LLM response is not valid JSON", zap.Error(err))
		result.RootCause = "Unstructured analysis"
		result.Confidence = "low"
		result.Reasoning = strings.TrimSpace(text)
		return result
	}

	result.RootCause = resp.RootCause
	result.Confidence = strings.ToLower(resp.Confidence)
	result.Reasoning = resp.Reasoning
	result.Recommendations = resp.Recommendations
	for _, ev := range resp.Timeline {
		ts, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			continue
		}
		result.Timeline = append(result.Timeline, models.TimelineEvent{Timestamp: ts, Event: ev.Event, Details: ev.Details})
	}
	return result
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
