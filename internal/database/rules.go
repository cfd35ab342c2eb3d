package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

// ErrDuplicateRule is returned when a rule name is already taken.
var ErrDuplicateRule = errors.New("escalation rule name already exists")

const ruleColumns = `
	id, name, alert_type, min_severity, tiers, notify_email, notify_chat,
	enabled, created_at, updated_at`

func scanRule(row rowScanner) (*models.AlertEscalationRule, error) {
	var (
		r         models.AlertEscalationRule
		tiersJSON string
	)
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.AlertType,
		&r.MinSeverity,
		&tiersJSON,
		&r.NotifyEmail,
		&r.NotifyChat,
		&r.Enabled,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tiersJSON), &r.Tiers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule tiers: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateRule validates and inserts an escalation rule.
func (db *DB) CreateRule(ctx context.Context, rule *models.AlertEscalationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := dbTime(time.Now())
	rule.CreatedAt = now
	rule.UpdatedAt = now

	tiers, err := json.Marshal(rule.Tiers)
	if err != nil {
		return fmt.Errorf("failed to marshal rule tiers: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO alert_escalation_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.AlertType, rule.MinSeverity, string(tiers),
		boolInt(rule.NotifyEmail), boolInt(rule.NotifyChat), boolInt(rule.Enabled),
		rule.CreatedAt, rule.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (db *DB) GetRule(ctx context.Context, id string) (*models.AlertEscalationRule, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_escalation_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return rule, nil
}

// ListRules returns rules ordered by name.
func (db *DB) ListRules(ctx context.Context, enabledOnly bool) ([]models.AlertEscalationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_escalation_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []models.AlertEscalationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// UpdateRule replaces the editable fields of an existing rule.
func (db *DB) UpdateRule(ctx context.Context, rule *models.AlertEscalationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	existing, err := db.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = dbTime(time.Now())

	tiers, err := json.Marshal(rule.Tiers)
	if err != nil {
		return fmt.Errorf("failed to marshal rule tiers: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE alert_escalation_rules
		SET name = ?, alert_type = ?, min_severity = ?, tiers = ?,
		    notify_email = ?, notify_chat = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.AlertType, rule.MinSeverity, string(tiers),
		boolInt(rule.NotifyEmail), boolInt(rule.NotifyChat), boolInt(rule.Enabled),
		rule.UpdatedAt, rule.ID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule. Escalation records that reference it are kept.
func (db *DB) DeleteRule(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM alert_escalation_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) CountRules(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_escalation_rules`).Scan(&count)
	return count, err
}
