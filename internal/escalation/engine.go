package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/metrics"
	"github.com/emirozbir/erp-sentinel/internal/models"
	"github.com/emirozbir/erp-sentinel/internal/notify"
)

type Store interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]models.AlertEscalationRule, error)
	ListEscalationCandidates(ctx context.Context, alertType string, minSeverity models.Severity) ([]models.Alert, error)
	FiredTiers(ctx context.Context, alertID, ruleID string) (map[int]bool, error)
	RecordEscalation(ctx context.Context, e *models.AlertEscalation) error
}

// Sender delivers a message over a named channel.
type Sender interface {
	Send(ctx context.Context, channel string, recipients []string, subject, body string) error
}

type Engine struct {
	store       Store
	sender      Sender
	publisher   events.Publisher
	logger      *zap.Logger
	sendTimeout time.Duration
	now         func() time.Time
}

func NewEngine(store Store, sender Sender, sendTimeout time.Duration, publisher events.Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		sender:      sender,
		publisher:   publisher,
		logger:      logger.Named("escalation"),
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

type Result struct {
	Rules         int `json:"rules"`
	AlertsChecked int `json:"alerts_checked"`
	Fired         int `json:"fired"`
	Failed        int `json:"failed_deliveries"`
}

func (e *Engine) Run(ctx context.Context) error {
	_, err := e.Escalate(ctx)
	return err
}

// Escalate fires every due tier of every enabled rule. Tiers are walked in
// order and the walk stops at the first tier whose threshold has not been
// reached, so the fired tiers of an alert always form a prefix. Several tiers
// may fire in one pass when an alert has been waiting through more than one
// threshold.
func (e *Engine) Escalate(ctx context.Context) (*Result, error) {
	result := &Result{}

	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		return result, err
	}
	if len(rules) == 0 {
		e.logger.Warn("No enabled escalation rules, skipping cycle")
		return result, nil
	}
	result.Rules = len(rules)

	now := e.now()
	for i := range rules {
		rule := &rules[i]
		if err := ctx.Err(); err != nil {
			return result, err
		}

		alerts, err := e.store.ListEscalationCandidates(ctx, rule.AlertType, rule.MinSeverity)
		if err != nil {
			return result, err
		}

		for j := range alerts {
			alert := &alerts[j]
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if !alert.Unacknowledged() || !rule.Matches(alert) {
				continue
			}
			result.AlertsChecked++

			if err := e.escalateAlert(ctx, rule, alert, now, result); err != nil {
				return result, err
			}
		}
	}

	if result.Fired > 0 {
		e.logger.Info("Escalation cycle finished",
			zap.Int("rules", result.Rules),
			zap.Int("alerts_checked", result.AlertsChecked),
			zap.Int("fired", result.Fired),
			zap.Int("failed_deliveries", result.Failed),
		)
	}
	return result, nil
}

func (e *Engine) escalateAlert(ctx context.Context, rule *models.AlertEscalationRule, alert *models.Alert, now time.Time, result *Result) error {
	elapsed := now.Sub(alert.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	fired, err := e.store.FiredTiers(ctx, alert.ID, rule.ID)
	if err != nil {
		return err
	}

	for _, tier := range rule.Tiers {
		if fired[tier.Level] {
			continue
		}
		if elapsed < time.Duration(tier.AfterMins)*time.Minute {
			break
		}

		record := e.fire(ctx, rule, alert, tier, elapsed, now)
		err := e.store.RecordEscalation(ctx, record)
		if errors.Is(err, database.ErrAlreadyEscalated) {
			continue
		}
		if err != nil {
			return err
		}

		result.Fired++
		metrics.EscalationsTotal.WithLabelValues(strconv.Itoa(tier.Level)).Inc()
		fields := []zap.Field{
			zap.String("alert_id", alert.ID),
			zap.String("rule", rule.Name),
			zap.Int("tier", tier.Level),
			zap.Int("elapsed_minutes", record.ElapsedMinutes),
		}
		if record.ErrorMessage != "" {
			result.Failed++
			e.logger.Warn("Escalation delivered with errors", append(fields, zap.String("error", record.ErrorMessage))...)
		} else {
			e.logger.Info("Escalation sent", fields...)
		}
		if err := e.publisher.Publish(events.EscalationRecorded, record); err != nil {
			e.logger.Warn("Failed to publish event", zap.String("event", events.EscalationRecorded), zap.Error(err))
		}
	}
	return nil
}

// fire sends one tier over every channel the rule enables. A failing channel
// does not stop the others; failures are collected on the record.
func (e *Engine) fire(ctx context.Context, rule *models.AlertEscalationRule, alert *models.Alert, tier models.EscalationTier, elapsed time.Duration, now time.Time) *models.AlertEscalation {
	subject, body := notify.FormatEscalation(alert, rule, tier, elapsed)

	record := &models.AlertEscalation{
		AlertID:        alert.ID,
		RuleID:         rule.ID,
		Tier:           tier.Level,
		Recipients:     tier.Recipients,
		ElapsedMinutes: int(elapsed / time.Minute),
		EscalatedAt:    now,
	}

	var failures []string
	for _, channel := range notify.RuleChannels(rule) {
		err := e.send(ctx, channel, tier.Recipients, subject, body)
		if err != nil {
			metrics.NotificationFailuresTotal.WithLabelValues(channel).Inc()
			failures = append(failures, fmt.Sprintf("%s: %v", channel, err))
			continue
		}
		switch channel {
		case notify.ChannelEmail:
			record.EmailSent = true
		case notify.ChannelChat:
			record.ChatSent = true
		}
	}
	record.ErrorMessage = strings.Join(failures, "; ")
	return record
}

func (e *Engine) send(ctx context.Context, channel string, recipients []string, subject, body string) error {
	if e.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.sendTimeout)
		defer cancel()
	}
	return e.sender.Send(ctx, channel, recipients, subject, body)
}
