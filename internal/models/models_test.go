package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityWarning, SeverityCritical))
	assert.Equal(t, SeverityWarning, MaxSeverity(SeverityWarning, SeverityInfo))

	s, err := ParseSeverity(" Critical ")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, s)

	_, err = ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestAlertStatusTransitions(t *testing.T) {
	assert.True(t, AlertStatusActive.CanTransition(AlertStatusAcknowledged))
	assert.True(t, AlertStatusActive.CanTransition(AlertStatusResolved))
	assert.True(t, AlertStatusAcknowledged.CanTransition(AlertStatusResolved))
	assert.False(t, AlertStatusAcknowledged.CanTransition(AlertStatusActive))
	assert.False(t, AlertStatusResolved.CanTransition(AlertStatusActive))
}

func TestRuleMatches(t *testing.T) {
	rule := AlertEscalationRule{AlertType: "Blocking Detected", MinSeverity: SeverityWarning}

	assert.True(t, rule.Matches(&Alert{Type: "blocking detected", Severity: SeverityCritical}))
	assert.False(t, rule.Matches(&Alert{Type: "Blocking Detected", Severity: SeverityInfo}))
	assert.False(t, rule.Matches(&Alert{Type: "High CPU", Severity: SeverityCritical}))

	any := AlertEscalationRule{MinSeverity: SeverityInfo}
	assert.True(t, any.Matches(&Alert{Type: "High CPU", Severity: SeverityInfo}))
}

func TestRuleValidate(t *testing.T) {
	tier := func(after int) EscalationTier {
		return EscalationTier{AfterMins: after, Recipients: []string{"ops@example.com"}}
	}

	tests := []struct {
		name string
		rule AlertEscalationRule
		ok   bool
	}{
		{"valid", AlertEscalationRule{Name: "r", NotifyEmail: true, Tiers: []EscalationTier{tier(15), tier(30), tier(60)}}, true},
		{"missing name", AlertEscalationRule{NotifyEmail: true, Tiers: []EscalationTier{tier(15)}}, false},
		{"no channel", AlertEscalationRule{Name: "r", Tiers: []EscalationTier{tier(15)}}, false},
		{"no tiers", AlertEscalationRule{Name: "r", NotifyChat: true}, false},
		{"too many tiers", AlertEscalationRule{Name: "r", NotifyChat: true, Tiers: []EscalationTier{tier(1), tier(2), tier(3), tier(4)}}, false},
		{"equal thresholds", AlertEscalationRule{Name: "r", NotifyChat: true, Tiers: []EscalationTier{tier(15), tier(15)}}, false},
		{"negative threshold", AlertEscalationRule{Name: "r", NotifyChat: true, Tiers: []EscalationTier{tier(-1)}}, false},
		{"no recipients", AlertEscalationRule{Name: "r", NotifyChat: true, Tiers: []EscalationTier{{AfterMins: 5}}}, false},
		{"bad severity", AlertEscalationRule{Name: "r", MinSeverity: "fatal", NotifyChat: true, Tiers: []EscalationTier{tier(5)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, SeverityInfo, tt.rule.MinSeverity)
				for i, tier := range tt.rule.Tiers {
					assert.Equal(t, i+1, tier.Level)
				}
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestMetricKeyString(t *testing.T) {
	key := MetricKey{Name: "duration", Type: "batch_job", Class: "nightly", Environment: "prod"}
	assert.Equal(t, "batch_job/duration[nightly]@prod", key.String())

	key.Class = ""
	assert.Equal(t, "batch_job/duration@prod", key.String())
}
