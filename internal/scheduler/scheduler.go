package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emirozbir/erp-sentinel/internal/metrics"
)

// Task is one periodic job. Cycles of the same task never overlap.
type Task struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type Runner struct {
	tasks        []Task
	cycleTimeout time.Duration
	logger       *zap.Logger
}

func New(cycleTimeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		cycleTimeout: cycleTimeout,
		logger:       logger.Named("scheduler"),
	}
}

func (r *Runner) Register(task Task) {
	r.tasks = append(r.tasks, task)
}

func (r *Runner) Tasks() []string {
	names := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		names = append(names, t.Name)
	}
	return names
}

// Start runs every registered task on its own ticker and blocks until ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context) error {
	for _, task := range r.tasks {
		if task.Interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", task.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range r.tasks {
		task := task
		g.Go(func() error {
			r.loop(ctx, task)
			return nil
		})
	}

	r.logger.Info("Scheduler started", zap.Strings("tasks", r.Tasks()))
	err := g.Wait()
	r.logger.Info("Scheduler stopped")
	return err
}

func (r *Runner) loop(ctx context.Context, task Task) {
	if task.RunOnStart {
		_ = r.RunOnce(ctx, task)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.RunOnce(ctx, task)
		}
	}
}

// RunOnce executes a single cycle of task under the cycle timeout. A panic in
// the task is recovered and reported as an error.
func (r *Runner) RunOnce(ctx context.Context, task Task) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cycleTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, p)
		}

		duration := time.Since(start)
		metrics.CycleDurationSeconds.WithLabelValues(task.Name).Observe(duration.Seconds())

		switch {
		case err == nil:
			metrics.CycleRunsTotal.WithLabelValues(task.Name, "success").Inc()
			r.logger.Debug("Cycle finished", zap.String("task", task.Name), zap.Duration("duration", duration))
		case errors.Is(err, context.Canceled):
			metrics.CycleRunsTotal.WithLabelValues(task.Name, "cancelled").Inc()
		default:
			metrics.CycleRunsTotal.WithLabelValues(task.Name, "error").Inc()
			r.logger.Error("Cycle failed",
				zap.String("task", task.Name),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}
	}()

	return task.Run(ctx)
}
