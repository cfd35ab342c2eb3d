package escalation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/database"
	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/models"
	"github.com/emirozbir/erp-sentinel/internal/notify"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type sentMessage struct {
	channel    string
	recipients []string
	subject    string
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]error
	sent []sentMessage
}

func (f *fakeSender) Send(ctx context.Context, channel string, recipients []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channel: channel, recipients: recipients, subject: subject})
	return f.fail[channel]
}

type fixture struct {
	engine *Engine
	db     *database.DB
	sender *fakeSender
	events *events.Recorder
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "escalation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, sender: &fakeSender{fail: map[string]error{}}, events: &events.Recorder{}, clock: t0}
	f.engine = NewEngine(db, f.sender, time.Second, f.events, zap.NewNop())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) rule(t *testing.T, rule models.AlertEscalationRule) *models.AlertEscalationRule {
	t.Helper()
	rule.Enabled = true
	require.NoError(t, f.db.CreateRule(context.Background(), &rule))
	return &rule
}

func (f *fixture) alert(t *testing.T, severity models.Severity, createdAt time.Time) *models.Alert {
	t.Helper()
	a := &models.Alert{Type: "High CPU", Severity: severity, Message: "cpu at 95%", Metric: "sql_health/cpu_usage@prod", CreatedAt: createdAt}
	require.NoError(t, f.db.CreateAlert(context.Background(), a))
	return a
}

func threeTiers() []models.EscalationTier {
	return []models.EscalationTier{
		{AfterMins: 15, Recipients: []string{"dba@example.com"}},
		{AfterMins: 30, Recipients: []string{"dba-lead@example.com"}},
		{AfterMins: 60, Recipients: []string{"it-manager@example.com"}},
	}
}

func TestTierOneFiresAfterThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.rule(t, models.AlertEscalationRule{
		Name: "critical", MinSeverity: models.SeverityCritical,
		NotifyEmail: true, NotifyChat: true, Tiers: threeTiers(),
	})
	alert := f.alert(t, models.SeverityCritical, t0)

	f.clock = t0.Add(20 * time.Minute)
	result, err := f.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fired)

	history, err := f.db.ListEscalations(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	e := history[0]
	assert.Equal(t, 1, e.Tier)
	assert.Equal(t, rule.ID, e.RuleID)
	assert.Equal(t, 20, e.ElapsedMinutes)
	assert.True(t, e.EmailSent)
	assert.True(t, e.ChatSent)
	assert.Empty(t, e.ErrorMessage)
	assert.Equal(t, []string{"dba@example.com"}, e.Recipients)

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, notify.ChannelEmail, f.sender.sent[0].channel)
	assert.Equal(t, notify.ChannelChat, f.sender.sent[1].channel)
	assert.Equal(t, 1, f.events.Count(events.EscalationRecorded))

	// the same cycle again fires nothing new
	result, err = f.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Fired)
}

func TestNothingFiresBeforeThreshold(t *testing.T) {
	f := newFixture(t)
	f.rule(t, models.AlertEscalationRule{Name: "critical", NotifyEmail: true, Tiers: threeTiers()})
	f.alert(t, models.SeverityCritical, t0)

	f.clock = t0.Add(14 * time.Minute)
	result, err := f.engine.Escalate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Fired)
	assert.Empty(t, f.sender.sent)
}

func TestCatchUpFiresAllDueTiersInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, models.AlertEscalationRule{Name: "critical", NotifyEmail: true, Tiers: threeTiers()})
	alert := f.alert(t, models.SeverityCritical, t0)

	f.clock = t0.Add(45 * time.Minute)
	result, err := f.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fired)

	history, err := f.db.ListEscalations(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Tier)
	assert.Equal(t, 2, history[1].Tier)
}

func TestFiredTiersStayPrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.rule(t, models.AlertEscalationRule{Name: "critical", NotifyEmail: true, Tiers: threeTiers()})
	alert := f.alert(t, models.SeverityCritical, t0)

	for minutes := 0; minutes <= 90; minutes += 5 {
		f.clock = t0.Add(time.Duration(minutes) * time.Minute)
		_, err := f.engine.Escalate(ctx)
		require.NoError(t, err)

		fired, err := f.db.FiredTiers(ctx, alert.ID, rule.ID)
		require.NoError(t, err)
		for level := 2; level <= 3; level++ {
			if fired[level] {
				assert.True(t, fired[level-1], "tier %d fired without tier %d at %d minutes", level, level-1, minutes)
			}
		}
	}

	count, err := f.db.CountEscalations(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAcknowledgeFreezesEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, models.AlertEscalationRule{Name: "critical", NotifyEmail: true, Tiers: threeTiers()})
	alert := f.alert(t, models.SeverityCritical, t0)

	f.clock = t0.Add(20 * time.Minute)
	_, err := f.engine.Escalate(ctx)
	require.NoError(t, err)

	_, err = f.db.AcknowledgeAlert(ctx, alert.ID, "dba", t0.Add(21*time.Minute))
	require.NoError(t, err)

	f.clock = t0.Add(2 * time.Hour)
	result, err := f.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Fired)

	count, err := f.db.CountEscalations(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChannelFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.fail[notify.ChannelEmail] = errors.New("smtp unavailable")
	f.rule(t, models.AlertEscalationRule{Name: "critical", NotifyEmail: true, NotifyChat: true, Tiers: threeTiers()})
	alert := f.alert(t, models.SeverityCritical, t0)

	f.clock = t0.Add(16 * time.Minute)
	result, err := f.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fired)
	assert.Equal(t, 1, result.Failed)

	history, err := f.db.ListEscalations(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].EmailSent)
	assert.True(t, history[0].ChatSent, "chat is still attempted")
	assert.Contains(t, history[0].ErrorMessage, "email: smtp unavailable")
}

func TestRuleFiltersBySeverityAndType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, models.AlertEscalationRule{
		Name: "blocking", AlertType: "Blocking Detected", MinSeverity: models.SeverityWarning,
		NotifyChat: true, Tiers: threeTiers(),
	})
	f.rule(t, models.AlertEscalationRule{
		Name: "critical-only", MinSeverity: models.SeverityCritical,
		NotifyChat: true, Tiers: threeTiers(),
	})
	warning := f.alert(t, models.SeverityWarning, t0)

	f.clock = t0.Add(20 * time.Minute)
	result, err := f.engine.Escalate(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Fired)

	count, err := f.db.CountEscalations(ctx, warning.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNoRulesIsNoop(t *testing.T) {
	f := newFixture(t)
	f.alert(t, models.SeverityCritical, t0)
	f.clock = t0.Add(time.Hour)

	result, err := f.engine.Escalate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Rules)
	assert.Empty(t, f.sender.sent)
}

func TestCancelledContextStopsBetweenRules(t *testing.T) {
	f := newFixture(t)
	f.rule(t, models.AlertEscalationRule{Name: "critical", NotifyEmail: true, Tiers: threeTiers()})
	f.alert(t, models.SeverityCritical, t0)
	f.clock = t0.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Escalate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sender.sent)
}
