package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/metrics"
)

func SetupRoutes(handler *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(handler.logger))

	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/alerts", handler.ListAlerts)
		v1.GET("/alerts/:id", handler.GetAlert)
		v1.POST("/alerts/:id/acknowledge", handler.AcknowledgeAlert)
		v1.POST("/alerts/:id/resolve", handler.ResolveAlert)
		v1.GET("/alerts/:id/escalations", handler.ListAlertEscalations)

		v1.POST("/samples", handler.IngestSample)

		v1.GET("/escalation/rules", handler.ListRules)
		v1.POST("/escalation/rules", handler.CreateRule)
		v1.GET("/escalation/rules/:id", handler.GetRule)
		v1.PUT("/escalation/rules/:id", handler.UpdateRule)
		v1.DELETE("/escalation/rules/:id", handler.DeleteRule)

		v1.GET("/correlations", handler.ListCorrelations)
		v1.GET("/correlations/:id", handler.GetCorrelation)
		v1.GET("/correlations/:id/alerts", handler.ListCorrelationAlerts)
		v1.POST("/correlations/:id/resolve", handler.ResolveCorrelation)
		v1.POST("/correlations/:id/analyze", handler.AnalyzeCorrelation)

		v1.GET("/baselines", handler.ListBaselines)
		v1.POST("/baselines/recalculate", handler.RecalculateBaselines)
	}

	return r
}

// requestLogger logs every request through zap and counts it by route.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()

		if path == "/health" || path == "/metrics" {
			return
		}
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
