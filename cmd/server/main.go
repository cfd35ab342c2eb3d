package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/api"
	"github.com/emirozbir/erp-sentinel/internal/app"
	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting erp-sentinel server",
		zap.String("version", "0.1.0"),
		zap.String("metric_source", cfg.MetricSource.Kind),
		zap.Int("metrics", len(cfg.Metrics)),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	sentinel, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer sentinel.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := sentinel.SeedRules(ctx); err != nil {
		logger.Fatal("Failed to seed escalation rules", zap.Error(err))
	}

	// Setup HTTP server
	handler := api.NewHandler(sentinel.DB, sentinel.Evaluator, sentinel.Baselines, sentinel.Agent, sentinel.Publisher, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- sentinel.Scheduler.Start(ctx)
	}()

	go func() {
		logger.Info("Server listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}

	select {
	case err := <-schedulerDone:
		if err != nil {
			logger.Error("Scheduler stopped with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("Scheduler did not stop in time")
	}

	logger.Info("Server stopped")
}
