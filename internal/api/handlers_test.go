package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/evaluator"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	db     *database.DB
	events *events.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	warn, crit := 70.0, 80.0
	cfg := &config.Config{
		Metrics: []config.MetricDefinition{{
			Name: "cpu_usage", Type: "sql_health", Environment: "prod",
			AlertType: "High CPU", Resource: "SRV-ERP01",
			WarningThreshold: &warn, CriticalThreshold: &crit,
		}},
		Evaluator: config.EvaluatorConfig{SuppressionWindow: 10 * time.Minute, CacheSize: 16},
	}
	rec := &events.Recorder{}
	eval := evaluator.New(db, nil, cfg, rec, zap.NewNop())

	handler := NewHandler(db, eval, nil, nil, rec, zap.NewNop())
	handler.now = func() time.Time { return t0.Add(time.Hour) }
	return &testServer{router: SetupRoutes(handler), db: db, events: rec}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) alert(t *testing.T, offset time.Duration) *models.Alert {
	t.Helper()
	a := &models.Alert{
		Type: "Blocking Detected", Severity: models.SeverityWarning, Message: "blocking",
		Metric: "sql_health/blocked_sessions@prod", Resource: "SRV-ERP01", CreatedAt: t0.Add(offset),
	}
	require.NoError(t, s.db.CreateAlert(context.Background(), a))
	return a
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/alerts", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "erp_sentinel_http_requests_total")
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a := s.alert(t, 0)

	w := s.do(t, http.MethodGet, "/api/v1/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Alerts []models.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", gin.H{"by": "dba"})
	require.Equal(t, http.StatusOK, w.Code)
	var acked models.Alert
	decode(t, w, &acked)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "dba", acked.AcknowledgedBy)
	assert.Equal(t, 1, s.events.Count(events.AlertAcknowledged))

	// a second acknowledge is a conflict
	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", gin.H{"by": "dba"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", gin.H{"by": "dba"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.events.Count(events.AlertResolved))

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", gin.H{"by": "dba"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAlertRequestErrors(t *testing.T) {
	s := newTestServer(t)
	a := s.alert(t, 0)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/alerts/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", gin.H{"by": "dba"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", gin.H{"by": "  "}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/alerts?status=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/alerts?limit=-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/alerts/missing/escalations", nil).Code)
}

func TestIngestSampleRaisesAlert(t *testing.T) {
	s := newTestServer(t)
	sample := gin.H{"metric_name": "cpu_usage", "metric_type": "sql_health", "environment": "prod", "value": 91.5}

	w := s.do(t, http.MethodPost, "/api/v1/samples", sample)
	require.Equal(t, http.StatusCreated, w.Code)
	var outcome struct {
		Alert *models.Alert `json:"alert"`
	}
	decode(t, w, &outcome)
	require.NotNil(t, outcome.Alert)
	assert.Equal(t, "High CPU", outcome.Alert.Type)
	assert.Equal(t, models.SeverityCritical, outcome.Alert.Severity)

	// duplicate inside the suppression window
	w = s.do(t, http.MethodPost, "/api/v1/samples", sample)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"suppressed":true`)

	w = s.do(t, http.MethodPost, "/api/v1/samples", gin.H{"metric_name": "cpu_usage"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleCRUD(t *testing.T) {
	s := newTestServer(t)
	rule := gin.H{
		"name":         "critical-dba",
		"min_severity": "critical",
		"notify_email": true,
		"enabled":      true,
		"tiers": []gin.H{
			{"after_minutes": 15, "recipients": []string{"dba@example.com"}},
			{"after_minutes": 30, "recipients": []string{"lead@example.com"}},
		},
	}

	w := s.do(t, http.MethodPost, "/api/v1/escalation/rules", rule)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.AlertEscalationRule
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 2, created.Tiers[1].Level)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/escalation/rules", rule).Code)

	rule["tiers"] = []gin.H{
		{"after_minutes": 30, "recipients": []string{"dba@example.com"}},
		{"after_minutes": 15, "recipients": []string{"lead@example.com"}},
	}
	w = s.do(t, http.MethodPut, "/api/v1/escalation/rules/"+created.ID, rule)
	assert.Equal(t, http.StatusBadRequest, w.Code, "thresholds must increase")

	rule["tiers"] = []gin.H{{"after_minutes": 5, "recipients": []string{"dba@example.com"}}}
	w = s.do(t, http.MethodPut, "/api/v1/escalation/rules/"+created.ID, rule)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/escalation/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.AlertEscalationRule
	decode(t, w, &got)
	assert.Len(t, got.Tiers, 1)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/escalation/rules/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/escalation/rules/"+created.ID, nil).Code)
}

func TestCorrelationEndpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	a, b := s.alert(t, 0), s.alert(t, 2*time.Minute)
	c := &models.AlertCorrelation{Title: "Blocking Detected on SRV-ERP01", Confidence: 100, Reason: "same type"}
	require.NoError(t, s.db.CreateCorrelation(ctx, c, []string{a.ID, b.ID}))

	w := s.do(t, http.MethodGet, "/api/v1/correlations?status=open", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), c.ID)

	w = s.do(t, http.MethodGet, "/api/v1/correlations/"+c.ID+"/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = s.do(t, http.MethodPost, "/api/v1/correlations/"+c.ID+"/analyze", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/correlations/"+c.ID+"/resolve", gin.H{"by": "dba"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.events.Count(events.CorrelationResolved))

	stored, err := s.db.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, stored.Status)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/correlations/"+c.ID+"/resolve", gin.H{"by": "dba"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/correlations/missing", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/correlations?status=bogus", nil).Code)
}

func TestBaselineEndpoints(t *testing.T) {
	s := newTestServer(t)
	key := models.MetricKey{Name: "cpu_usage", Type: "sql_health", Environment: "prod"}
	require.NoError(t, s.db.InsertBaseline(context.Background(), &models.MetricBaseline{Key: key, Mean: 50, StdDev: 10, SampleCount: 10}))

	w := s.do(t, http.MethodGet, "/api/v1/baselines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = s.do(t, http.MethodPost, "/api/v1/baselines/recalculate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
