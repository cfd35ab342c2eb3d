// Package app assembles the engines shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/agent"
	"github.com/emirozbir/erp-sentinel/internal/archive"
	"github.com/emirozbir/erp-sentinel/internal/baseline"
	"github.com/emirozbir/erp-sentinel/internal/collectors"
	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/correlation"
	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/escalation"
	"github.com/emirozbir/erp-sentinel/internal/evaluator"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/notify"
	"github.com/emirozbir/erp-sentinel/internal/scheduler"
)

// Task names accepted by RunTask.
const (
	TaskSampling    = "sampling"
	TaskBaselines   = "baselines"
	TaskCorrelation = "correlation"
	TaskEscalation  = "escalation"
	TaskArchive     = "archive"
)

type App struct {
	Config      *config.Config
	DB          *database.DB
	Source      collectors.MetricSource
	Publisher   events.Publisher
	Gateway     *notify.Gateway
	Evaluator   *evaluator.Evaluator
	Baselines   *baseline.Engine
	Correlation *correlation.Engine
	Escalation  *escalation.Engine
	Archive     *archive.Sweeper
	Agent       *agent.Agent
	Scheduler   *scheduler.Runner

	logger *zap.Logger
}

// New opens the store and builds every engine. A missing metric source, bus or
// LLM key disables the parts that need them instead of failing.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database initialized", zap.String("path", cfg.Database.Path))

	a := &App{Config: cfg, DB: db, logger: logger}

	a.Source, err = collectors.New(cfg.MetricSource)
	if err != nil {
		logger.Warn("Metric source unavailable, sampling and baselines disabled", zap.Error(err))
		a.Source = nil
	}

	a.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			logger.Warn("NATS unavailable, events disabled", zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			a.Publisher = pub
			logger.Info("Publishing events to NATS", zap.String("url", cfg.NATS.URL))
		}
	}

	var channels []notify.Channel
	if cfg.Notification.Email.Host != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.Notification.Email))
	}
	if cfg.Notification.Chat.WebhookURL != "" {
		channels = append(channels, notify.NewChatChannel(cfg.Notification.Chat))
	}
	a.Gateway = notify.NewGateway(channels...)
	if names := a.Gateway.Channels(); len(names) > 0 {
		logger.Info("Notification channels configured", zap.Strings("channels", names))
	} else {
		logger.Warn("No notification channels configured, escalations will be recorded as failed")
	}

	a.Evaluator = evaluator.New(db, a.Source, cfg, a.Publisher, logger)
	if a.Source != nil {
		a.Baselines = baseline.NewEngine(db, a.Source, cfg, logger)
	}
	a.Correlation = correlation.NewEngine(db, cfg.Correlation, a.Publisher, logger)
	a.Escalation = escalation.NewEngine(db, a.Gateway, cfg.Escalation.SendTimeout, a.Publisher, logger)
	a.Archive = archive.NewSweeper(db, cfg.Archive.CloseAfter, a.Publisher, logger)

	a.Agent, err = agent.NewAgent(db, cfg, logger)
	switch {
	case errors.Is(err, agent.ErrDisabled):
		logger.Info("Incident analysis disabled")
	case err != nil:
		logger.Warn("Incident analysis unavailable", zap.Error(err))
	}

	a.Scheduler = scheduler.New(cfg.Scheduler.CycleTimeout, logger)
	for _, task := range a.Tasks() {
		a.Scheduler.Register(task)
	}

	return a, nil
}

// Tasks lists the periodic cycles. Sampling and baselines are left out when
// there is no metric source.
func (a *App) Tasks() []scheduler.Task {
	s := a.Config.Scheduler
	var tasks []scheduler.Task
	if a.Source != nil {
		tasks = append(tasks,
			scheduler.Task{Name: TaskBaselines, Interval: s.BaselineInterval, RunOnStart: true, Run: a.Baselines.Run},
			scheduler.Task{Name: TaskSampling, Interval: s.SamplingInterval, Run: a.Evaluator.Run},
		)
	}
	return append(tasks,
		scheduler.Task{Name: TaskCorrelation, Interval: s.CorrelationInterval, Run: a.Correlation.Run},
		scheduler.Task{Name: TaskEscalation, Interval: s.EscalationInterval, Run: a.Escalation.Run},
		scheduler.Task{Name: TaskArchive, Interval: s.ArchiveInterval, Run: a.Archive.Run},
	)
}

// RunTask executes one cycle of the named task through the scheduler, so it
// gets the cycle timeout, panic recovery and cycle metrics. A non-nil run
// replaces the task body; callers use it to capture the cycle's result.
func (a *App) RunTask(ctx context.Context, name string, run func(context.Context) error) error {
	for _, task := range a.Tasks() {
		if task.Name == name {
			if run != nil {
				task.Run = run
			}
			return a.Scheduler.RunOnce(ctx, task)
		}
	}
	return fmt.Errorf("unknown or disabled task %q", name)
}

// SeedRules loads the rules file into an empty rule table.
func (a *App) SeedRules(ctx context.Context) (int, error) {
	path := a.Config.Escalation.RulesFile
	if path == "" {
		return 0, nil
	}
	count, err := a.DB.CountRules(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	rules, err := config.LoadRuleSeeds(path)
	if err != nil {
		return 0, err
	}
	for i := range rules {
		if err := a.DB.CreateRule(ctx, &rules[i]); err != nil {
			return i, fmt.Errorf("failed to seed rule %q: %w", rules[i].Name, err)
		}
	}
	a.logger.Info("Seeded escalation rules", zap.String("file", path), zap.Int("rules", len(rules)))
	return len(rules), nil
}

// Close releases the bus, the metric source and the store.
func (a *App) Close() {
	a.Publisher.Close()
	if closer, ok := a.Source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("Failed to close metric source", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
