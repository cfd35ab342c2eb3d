package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/agent"
	"github.com/emirozbir/erp-sentinel/internal/baseline"
	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/evaluator"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

type Handler struct {
	db        *database.DB
	evaluator *evaluator.Evaluator
	baselines *baseline.Engine
	agent     *agent.Agent
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler wires the API. analyzer may be nil when no LLM is configured.
func NewHandler(db *database.DB, eval *evaluator.Evaluator, baselines *baseline.Engine, analyzer *agent.Agent, publisher events.Publisher, logger *zap.Logger) *Handler {
	return &Handler{
		db:        db,
		evaluator: eval,
		baselines: baselines,
		agent:     analyzer,
		publisher: publisher,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}

// respondError maps store and validation errors to status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, database.ErrInvalidTransition), errors.Is(err, database.ErrDuplicateRule):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidRule):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) publish(event string, payload interface{}) {
	if err := h.publisher.Publish(event, payload); err != nil {
		h.logger.Warn("Failed to publish event", zap.String("event", event), zap.Error(err))
	}
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   h.now(),
	})
}

// Alerts

func (h *Handler) ListAlerts(c *gin.Context) {
	filter := models.AlertFilter{
		Status: models.AlertStatus(c.Query("status")),
		Type:   c.Query("type"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.db.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.db.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type TransitionRequest struct {
	By string `json:"by" binding:"required"`
}

func bindTransition(c *gin.Context) (TransitionRequest, bool) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	req.By = strings.TrimSpace(req.By)
	if req.By == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "by must not be blank"})
		return req, false
	}
	return req, true
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}

	alert, err := h.db.AcknowledgeAlert(c.Request.Context(), c.Param("id"), req.By, h.now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Alert acknowledged", zap.String("alert_id", alert.ID), zap.String("by", req.By))
	h.publish(events.AlertAcknowledged, alert)
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}

	alert, err := h.db.ResolveAlert(c.Request.Context(), c.Param("id"), req.By, h.now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Alert resolved", zap.String("alert_id", alert.ID), zap.String("by", req.By))
	h.publish(events.AlertResolved, alert)
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ListAlertEscalations(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.db.GetAlert(ctx, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	history, err := h.db.ListEscalations(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": history, "count": len(history)})
}

// Samples

type SampleRequest struct {
	MetricName  string     `json:"metric_name" binding:"required"`
	MetricType  string     `json:"metric_type" binding:"required"`
	MetricClass string     `json:"metric_class"`
	Environment string     `json:"environment" binding:"required"`
	Value       *float64   `json:"value" binding:"required"`
	Resource    string     `json:"resource"`
	Timestamp   *time.Time `json:"timestamp"`
}

// IngestSample evaluates a pushed sample immediately.
func (h *Handler) IngestSample(c *gin.Context) {
	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sample := models.MetricSample{
		Key: models.MetricKey{
			Name:        req.MetricName,
			Type:        req.MetricType,
			Class:       req.MetricClass,
			Environment: req.Environment,
		},
		Value:     *req.Value,
		Resource:  req.Resource,
		Timestamp: h.now(),
	}
	if req.Timestamp != nil {
		sample.Timestamp = *req.Timestamp
	}

	outcome, err := h.evaluator.Evaluate(c.Request.Context(), sample)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Alert != nil {
		status = http.StatusCreated
	}
	c.JSON(status, outcome)
}

// Escalation rules

func (h *Handler) ListRules(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"
	rules, err := h.db.ListRules(c.Request.Context(), enabledOnly)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.db.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) CreateRule(c *gin.Context) {
	var rule models.AlertEscalationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = ""

	if err := h.db.CreateRule(c.Request.Context(), &rule); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Escalation rule created", zap.String("rule_id", rule.ID), zap.String("name", rule.Name))
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	var rule models.AlertEscalationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = c.Param("id")

	if err := h.db.UpdateRule(c.Request.Context(), &rule); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Escalation rule updated", zap.String("rule_id", rule.ID))
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.db.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Escalation rule deleted", zap.String("rule_id", c.Param("id")))
	c.Status(http.StatusNoContent)
}

// Correlations

func (h *Handler) ListCorrelations(c *gin.Context) {
	status := models.CorrelationStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	correlations, err := h.db.ListCorrelations(c.Request.Context(), status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correlations": correlations, "count": len(correlations)})
}

func (h *Handler) GetCorrelation(c *gin.Context) {
	correlation, err := h.db.GetCorrelation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, correlation)
}

func (h *Handler) ListCorrelationAlerts(c *gin.Context) {
	alerts, err := h.db.ListCorrelationAlerts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) ResolveCorrelation(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}

	correlation, err := h.db.ResolveCorrelation(c.Request.Context(), c.Param("id"), req.By, h.now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Correlation resolved", zap.String("correlation_id", correlation.ID), zap.String("by", req.By))
	h.publish(events.CorrelationResolved, correlation)
	c.JSON(http.StatusOK, correlation)
}

func (h *Handler) AnalyzeCorrelation(c *gin.Context) {
	if h.agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": agent.ErrDisabled.Error()})
		return
	}

	result, err := h.agent.AnalyzeCorrelation(c.Request.Context(), c.Param("id"), &agent.NoOpProgressReporter{})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.respondError(c, err)
			return
		}
		h.logger.Error("Analysis failed", zap.String("correlation_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Baselines

func (h *Handler) ListBaselines(c *gin.Context) {
	baselines, err := h.db.ListLatestBaselines(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"baselines": baselines, "count": len(baselines)})
}

func (h *Handler) RecalculateBaselines(c *gin.Context) {
	if h.baselines == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no metric source configured"})
		return
	}
	report, err := h.baselines.RecalculateAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
