package agent

import (
	"context"
	"errors"
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

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Analyze(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

type recordingProgress struct {
	updates []string
	stopped bool
}

func (r *recordingProgress) Update(message string) { r.updates = append(r.updates, message) }
func (r *recordingProgress) Stop()                 { r.stopped = true }

func seed(t *testing.T) (*database.DB, *models.AlertCorrelation) {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key := models.MetricKey{Name: "blocked_sessions", Type: "sql_health", Environment: "prod"}
	require.NoError(t, db.InsertBaseline(ctx, &models.MetricBaseline{Key: key, Mean: 2, StdDev: 1, P50: 2, P95: 4, P99: 5, SampleCount: 500}))
	other := models.MetricKey{Name: "disk_free", Type: "sql_health", Environment: "prod"}
	require.NoError(t, db.InsertBaseline(ctx, &models.MetricBaseline{Key: other, Mean: 40, SampleCount: 500}))

	var ids []string
	for i := 0; i < 2; i++ {
		a := &models.Alert{
			Type: "Blocking Detected", Severity: models.SeverityWarning, Message: "12 blocked sessions",
			Metric: key.String(), Resource: "SRV-ERP01", CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.CreateAlert(ctx, a))
		ids = append(ids, a.ID)
	}
	c := &models.AlertCorrelation{Title: "Blocking Detected on SRV-ERP01", Confidence: 100, Reason: "same type, same resource"}
	require.NoError(t, db.CreateCorrelation(ctx, c, ids))
	return db, c
}

func TestAnalyzeCorrelationParsesJSON(t *testing.T) {
	db, c := seed(t)
	client := &fakeLLM{reply: "Here you go:\n```json\n" + `{
  "root_cause": "Long running invoice posting holds locks",
  "confidence": "HIGH",
  "reasoning": "Both alerts point at the same blocker",
  "timeline": [{"timestamp": "2026-03-02T09:00:00Z", "event": "blocking starts", "details": ""}, {"timestamp": "soon", "event": "skipped"}],
  "recommendations": [{"priority": "high", "action": "Kill the blocking session", "command": "KILL 53"}]
}` + "\n```"}

	a := New(db, client, "anthropic", zap.NewNop())
	progress := &recordingProgress{}
	result, err := a.AnalyzeCorrelation(context.Background(), c.ID, progress)
	require.NoError(t, err)

	assert.Equal(t, c.ID, result.CorrelationID)
	assert.Equal(t, 2, result.AlertCount)
	assert.Equal(t, "Long running invoice posting holds locks", result.RootCause)
	assert.Equal(t, "high", result.Confidence)
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, t0, result.Timeline[0].Timestamp)
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "KILL 53", result.Recommendations[0].Command)
	assert.Equal(t, "anthropic", result.Provider)

	assert.Contains(t, client.prompt, "Blocking Detected on SRV-ERP01")
	assert.Contains(t, client.prompt, "sql_health/blocked_sessions@prod")
	assert.NotContains(t, client.prompt, "disk_free", "unrelated baselines are left out")
	assert.True(t, progress.stopped)
	assert.NotEmpty(t, progress.updates)
}

func TestAnalyzeCorrelationKeepsUnstructuredReply(t *testing.T) {
	db, c := seed(t)
	a := New(db, &fakeLLM{reply: "Probably a blocking chain."}, "openai", zap.NewNop())

	result, err := a.AnalyzeCorrelation(context.Background(), c.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "low", result.Confidence)
	assert.Equal(t, "Probably a blocking chain.", result.Reasoning)
}

func TestAnalyzeCorrelationErrors(t *testing.T) {
	db, c := seed(t)

	a := New(db, &fakeLLM{}, "anthropic", zap.NewNop())
	_, err := a.AnalyzeCorrelation(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, database.ErrNotFound)

	a = New(db, &fakeLLM{err: errors.New("rate limited")}, "anthropic", zap.NewNop())
	_, err = a.AnalyzeCorrelation(context.Background(), c.ID, nil)
	assert.ErrorContains(t, err, "rate limited")
}

func TestNewAgentDisabledWithoutKey(t *testing.T) {
	_, err := NewAgent(nil, &config.Config{LLM: config.LLMConfig{Provider: "anthropic"}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrDisabled)
}
