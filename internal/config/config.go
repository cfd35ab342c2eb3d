package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	MetricSource MetricSourceConfig `mapstructure:"metric_source"`
	Metrics      []MetricDefinition `mapstructure:"metrics"`
	Baseline     BaselineConfig     `mapstructure:"baseline"`
	Evaluator    EvaluatorConfig    `mapstructure:"evaluator"`
	Correlation  CorrelationConfig  `mapstructure:"correlation"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Notification NotificationConfig `mapstructure:"notification"`
	NATS         NATSConfig         `mapstructure:"nats"`
	LLM          LLMConfig          `mapstructure:"llm"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

type MetricSourceConfig struct {
	// Kind selects the collector: "sqlserver" or "http".
	Kind    string        `mapstructure:"kind"`
	DSN     string        `mapstructure:"dsn"`
	Table   string        `mapstructure:"table"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricDefinition is one entry of the monitored metric catalogue.
type MetricDefinition struct {
	Name              string   `mapstructure:"name"`
	Type              string   `mapstructure:"type"`
	Class             string   `mapstructure:"class"`
	Environment       string   `mapstructure:"environment"`
	AlertType         string   `mapstructure:"alert_type"`
	Resource          string   `mapstructure:"resource"`
	WarningThreshold  *float64 `mapstructure:"warning_threshold"`
	CriticalThreshold *float64 `mapstructure:"critical_threshold"`
}

func (m MetricDefinition) Key() models.MetricKey {
	return models.MetricKey{Name: m.Name, Type: m.Type, Class: m.Class, Environment: m.Environment}
}

type BaselineConfig struct {
	WindowDays int `mapstructure:"window_days"`
	MinSamples int `mapstructure:"min_samples"`
}

type EvaluatorConfig struct {
	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
	SampleLookback    time.Duration `mapstructure:"sample_lookback"`
	CacheSize         int           `mapstructure:"cache_size"`
}

type CorrelationConfig struct {
	Lookback      time.Duration `mapstructure:"lookback"`
	TimeWindow    time.Duration `mapstructure:"time_window"`
	MinConfidence int           `mapstructure:"min_confidence"`
}

type EscalationConfig struct {
	RulesFile   string        `mapstructure:"rules_file"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type SchedulerConfig struct {
	SamplingInterval    time.Duration `mapstructure:"sampling_interval"`
	CorrelationInterval time.Duration `mapstructure:"correlation_interval"`
	EscalationInterval  time.Duration `mapstructure:"escalation_interval"`
	BaselineInterval    time.Duration `mapstructure:"baseline_interval"`
	ArchiveInterval     time.Duration `mapstructure:"archive_interval"`
	CycleTimeout        time.Duration `mapstructure:"cycle_timeout"`
}

type ArchiveConfig struct {
	CloseAfter time.Duration `mapstructure:"close_after"`
}

type NotificationConfig struct {
	Email EmailConfig `mapstructure:"email"`
	Chat  ChatConfig  `mapstructure:"chat"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type ChatConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ERPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.LLM.Provider == "anthropic" {
		config.LLM.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.Provider == "openai" {
		config.LLM.APIKey = apiKey
	}
	if pw := os.Getenv("SMTP_PASSWORD"); pw != "" {
		config.Notification.Email.Password = pw
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("database.path", "./erp-sentinel.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("metric_source.kind", "sqlserver")
	v.SetDefault("metric_source.table", "erp_metric_samples")
	v.SetDefault("metric_source.timeout", "15s")

	v.SetDefault("baseline.window_days", 14)
	v.SetDefault("baseline.min_samples", 2)

	v.SetDefault("evaluator.suppression_window", "10m")
	v.SetDefault("evaluator.sample_lookback", "5m")
	v.SetDefault("evaluator.cache_size", 1024)

	v.SetDefault("correlation.lookback", "60m")
	v.SetDefault("correlation.time_window", "10m")
	v.SetDefault("correlation.min_confidence", 50)

	v.SetDefault("escalation.send_timeout", "20s")

	v.SetDefault("scheduler.sampling_interval", "1m")
	v.SetDefault("scheduler.correlation_interval", "2m")
	v.SetDefault("scheduler.escalation_interval", "5m")
	v.SetDefault("scheduler.baseline_interval", "6h")
	v.SetDefault("scheduler.archive_interval", "24h")
	v.SetDefault("scheduler.cycle_timeout", "2m")

	v.SetDefault("archive.close_after", "72h")

	v.SetDefault("notification.email.port", 25)
	v.SetDefault("notification.chat.timeout", "10s")

	v.SetDefault("nats.subject_prefix", "erp")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("llm.max_retries", 2)
}

// Validate rejects settings that would make an engine misbehave rather than
// fail loudly at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Baseline.WindowDays <= 0 {
		errs = append(errs, errors.New("baseline.window_days must be positive"))
	}
	if c.Baseline.MinSamples < 2 {
		errs = append(errs, errors.New("baseline.min_samples must be at least 2"))
	}
	if c.Evaluator.SuppressionWindow < 0 {
		errs = append(errs, errors.New("evaluator.suppression_window must not be negative"))
	}
	if c.Correlation.MinConfidence < 0 || c.Correlation.MinConfidence > 100 {
		errs = append(errs, errors.New("correlation.min_confidence must be within 0..100"))
	}
	if c.Correlation.TimeWindow <= 0 || c.Correlation.Lookback <= 0 {
		errs = append(errs, errors.New("correlation.lookback and correlation.time_window must be positive"))
	}

	intervals := map[string]time.Duration{
		"scheduler.sampling_interval":    c.Scheduler.SamplingInterval,
		"scheduler.correlation_interval": c.Scheduler.CorrelationInterval,
		"scheduler.escalation_interval":  c.Scheduler.EscalationInterval,
		"scheduler.baseline_interval":    c.Scheduler.BaselineInterval,
		"scheduler.archive_interval":     c.Scheduler.ArchiveInterval,
	}
	for key, d := range intervals {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	for i, m := range c.Metrics {
		if m.Name == "" || m.Type == "" || m.Environment == "" {
			errs = append(errs, fmt.Errorf("metrics[%d]: name, type and environment are required", i))
		}
		if m.WarningThreshold != nil && m.CriticalThreshold != nil && *m.WarningThreshold > *m.CriticalThreshold {
			errs = append(errs, fmt.Errorf("metrics[%d]: warning_threshold exceeds critical_threshold", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// FindMetric returns the catalogue entry for key, if any.
func (c *Config) FindMetric(key models.MetricKey) (MetricDefinition, bool) {
	for _, m := range c.Metrics {
		if m.Key() == key {
			return m, true
		}
	}
	return MetricDefinition{}, false
}
