package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emirozbir/erp-sentinel/internal/agent"
	"github.com/emirozbir/erp-sentinel/internal/app"
	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/formatter"
	"github.com/emirozbir/erp-sentinel/internal/models"
	"github.com/emirozbir/erp-sentinel/internal/ui"
)

type cli struct {
	sentinel *app.App
	out      *formatter.Formatter
	json     bool
	quiet    bool
}

func main() {
	run := flag.String("run", "", "Run one cycle: sample, baselines, correlate, escalate or archive")
	list := flag.String("list", "", "List alerts, correlations or rules")
	status := flag.String("status", "", "Status filter for -list")
	limit := flag.Int("limit", 50, "Maximum number of alerts for -list alerts")
	analyze := flag.String("analyze", "", "Correlation ID to analyze with the configured LLM")
	configPath := flag.String("config", "", "Path to config file")
	outputFormat := flag.String("format", "pretty", "Output format: 'pretty' or 'json'")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	verbose := flag.Bool("verbose", false, "Log engine activity to stderr")

	flag.Parse()

	if *run == "" && *list == "" && *analyze == "" {
		log.Fatal("One of -run, -list or -analyze is required")
	}

	// Logs go to stderr so JSON output stays parseable
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if *verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	sentinel, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer sentinel.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{
		sentinel: sentinel,
		out:      formatter.NewFormatter(!*noColor),
		json:     *outputFormat == "json",
		quiet:    *outputFormat == "json" || *verbose,
	}

	switch {
	case *run != "":
		err = c.runCycle(ctx, *run)
	case *list != "":
		err = c.list(ctx, *list, *status, *limit)
	default:
		err = c.analyze(ctx, *analyze)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, formatter.Error("✗ "+err.Error()))
		stop()
		os.Exit(1)
	}
}

func (c *cli) progress(message string) ui.ProgressReporter {
	if c.quiet {
		return &agent.NoOpProgressReporter{}
	}
	spinner := ui.NewSpinnerProgress()
	spinner.Start(message)
	return spinner
}

func (c *cli) print(v interface{}, pretty func() string) error {
	if c.json {
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}
	fmt.Println(pretty())
	return nil
}

// cycleTasks maps -run values to scheduler task names.
var cycleTasks = map[string]string{
	"sample":    app.TaskSampling,
	"baselines": app.TaskBaselines,
	"correlate": app.TaskCorrelation,
	"escalate":  app.TaskEscalation,
	"archive":   app.TaskArchive,
}

func (c *cli) runCycle(ctx context.Context, name string) error {
	s := c.sentinel
	task, ok := cycleTasks[name]
	if !ok {
		return fmt.Errorf("unknown cycle %q", name)
	}
	if (task == app.TaskSampling || task == app.TaskBaselines) && s.Source == nil {
		return fmt.Errorf("no metric source configured")
	}

	var (
		result interface{}
		fields []formatter.Field
	)
	cycle := func(ctx context.Context) error {
		switch task {
		case app.TaskSampling:
			created, err := s.Evaluator.Sweep(ctx)
			result = map[string]int{"alerts_created": created}
			fields = []formatter.Field{{Label: "Metrics", Value: len(s.Config.Metrics)}, {Label: "Alerts created", Value: created}}
			return err
		case app.TaskBaselines:
			report, err := s.Baselines.RecalculateAll(ctx)
			result = report
			if report != nil {
				fields = []formatter.Field{
					{Label: "Computed", Value: len(report.Computed)},
					{Label: "Insufficient data", Value: len(report.Insufficient)},
					{Label: "Failed", Value: len(report.Failed)},
				}
			}
			return err
		case app.TaskCorrelation:
			r, err := s.Correlation.Correlate(ctx)
			result = r
			if r != nil {
				fields = []formatter.Field{
					{Label: "Created", Value: r.Created},
					{Label: "Extended", Value: r.Extended},
					{Label: "Alerts attached", Value: r.Attached},
				}
			}
			return err
		case app.TaskEscalation:
			r, err := s.Escalation.Escalate(ctx)
			result = r
			if r != nil {
				fields = []formatter.Field{
					{Label: "Rules", Value: r.Rules},
					{Label: "Alerts checked", Value: r.AlertsChecked},
					{Label: "Tiers fired", Value: r.Fired},
					{Label: "Failed deliveries", Value: r.Failed},
				}
			}
			return err
		default:
			r, err := s.Archive.Sweep(ctx)
			result = r
			if r != nil {
				fields = []formatter.Field{{Label: "Resolved", Value: r.Resolved}, {Label: "Closed", Value: r.Closed}}
			}
			return err
		}
	}

	progress := c.progress(fmt.Sprintf("Running %s cycle", name))
	start := time.Now()
	err := s.RunTask(ctx, task, cycle)
	progress.Stop()
	if err != nil {
		return err
	}

	return c.print(result, func() string {
		return c.out.FormatSummary(fmt.Sprintf("⚙ %s cycle", name), time.Since(start), fields...)
	})
}

func (c *cli) list(ctx context.Context, what, status string, limit int) error {
	db := c.sentinel.DB
	switch what {
	case "alerts":
		alerts, err := db.ListAlerts(ctx, models.AlertFilter{Status: models.AlertStatus(status), Limit: limit})
		if err != nil {
			return err
		}
		return c.print(alerts, func() string { return c.out.FormatAlerts(alerts) })
	case "correlations":
		correlations, err := db.ListCorrelations(ctx, models.CorrelationStatus(status))
		if err != nil {
			return err
		}
		return c.print(correlations, func() string { return c.out.FormatCorrelations(correlations) })
	case "rules":
		rules, err := db.ListRules(ctx, status == "enabled")
		if err != nil {
			return err
		}
		return c.print(rules, func() string {
			fields := make([]formatter.Field, 0, len(rules))
			for _, r := range rules {
				fields = append(fields, formatter.Field{
					Label: r.Name,
					Value: fmt.Sprintf("%d tiers, min %s, enabled=%t", len(r.Tiers), r.MinSeverity, r.Enabled),
				})
			}
			return c.out.FormatSummary(fmt.Sprintf("📜 ESCALATION RULES (%d)", len(rules)), 0, fields...)
		})
	default:
		return fmt.Errorf("cannot list %q", what)
	}
}

func (c *cli) analyze(ctx context.Context, correlationID string) error {
	if c.sentinel.Agent == nil {
		return agent.ErrDisabled
	}

	result, err := c.sentinel.Agent.AnalyzeCorrelation(ctx, correlationID, c.progress("Analyzing correlation"))
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	return c.print(result, func() string { return c.out.FormatIncidentAnalysis(result) })
}
