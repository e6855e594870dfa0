package postgres

import (
	"context"
	"fmt"

	"github.com/regwatch/regwatch/internal/monitor"
)

// SuppressionStore manages per-source suppression rules.
type SuppressionStore struct {
	pool db
}

// NewSuppressionStore constructs a store from an existing pool.
func NewSuppressionStore(pool db) (*SuppressionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SuppressionStore{pool: pool}, nil
}

// CreateRule inserts a new suppression rule.
func (s *SuppressionStore) CreateRule(ctx context.Context, rule monitor.SuppressionRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO suppression_rules (
	id, source_id, rule_type, rule_pattern, rule_description,
	created_by, is_active, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rule.ID, rule.SourceID, rule.Type, rule.Pattern, rule.Description,
		rule.CreatedBy, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suppression rule: %w", err)
	}
	return nil
}

// ListActiveRules returns the active rules for a source.
func (s *SuppressionStore) ListActiveRules(ctx context.Context, sourceID string) ([]monitor.SuppressionRule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, rule_type, rule_pattern, COALESCE(rule_description, ''),
       created_by, is_active, created_at
FROM suppression_rules
WHERE source_id = $1 AND is_active = TRUE
ORDER BY created_at ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list suppression rules for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var rules []monitor.SuppressionRule
	for rows.Next() {
		var rule monitor.SuppressionRule
		if err := rows.Scan(
			&rule.ID, &rule.SourceID, &rule.Type, &rule.Pattern, &rule.Description,
			&rule.CreatedBy, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppression rules: %w", err)
	}
	return rules, nil
}

// SetRuleActive toggles a rule without deleting its history.
func (s *SuppressionStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suppression_rules SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set suppression rule %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("suppression rule %s not found", id)
	}
	return nil
}
