package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

type ruleSeedFile struct {
	Rules []ruleSeed `yaml:"rules"`
}

type ruleSeed struct {
	Name        string                  `yaml:"name"`
	AlertType   string                  `yaml:"alert_type"`
	MinSeverity string                  `yaml:"min_severity"`
	Tiers       []models.EscalationTier `yaml:"tiers"`
	NotifyEmail bool                    `yaml:"notify_email"`
	NotifyChat  bool                    `yaml:"notify_chat"`
	Enabled     *bool                   `yaml:"enabled"`
}

// LoadRuleSeeds reads the escalation rules an empty store is bootstrapped
// with. Every rule is validated; the first invalid one fails the load.
func LoadRuleSeeds(path string) ([]models.AlertEscalationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}

	var file ruleSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	rules := make([]models.AlertEscalationRule, 0, len(file.Rules))
	for i, seed := range file.Rules {
		rule := models.AlertEscalationRule{
			Name:        seed.Name,
			AlertType:   seed.AlertType,
			MinSeverity: models.Severity(seed.MinSeverity),
			Tiers:       seed.Tiers,
			NotifyEmail: seed.NotifyEmail,
			NotifyChat:  seed.NotifyChat,
			Enabled:     seed.Enabled == nil || *seed.Enabled,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d] %q: %w", i, seed.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
