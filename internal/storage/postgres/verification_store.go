package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/regwatch/regwatch/internal/monitor"
)

// VerificationStore records user feedback on detected changes.
type VerificationStore struct {
	pool db
}

// NewVerificationStore constructs a store from an existing pool.
func NewVerificationStore(pool db) (*VerificationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &VerificationStore{pool: pool}, nil
}

// CreateVerification inserts one verification. The unique index on
// diff_id makes a second verification of the same diff fail.
func (s *VerificationStore) CreateVerification(ctx context.Context, v monitor.Verification) error {
	if v.ID == "" {
		return fmt.Errorf("verification id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO verifications (
	id, diff_id, verified_by, is_false_positive,
	feedback_reason, suppression_rule_id, created_at
) VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7)`,
		v.ID, v.DiffID, v.VerifiedBy, v.IsFalsePositive,
		v.FeedbackReason, v.SuppressionRuleID, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// GetVerificationByDiff returns the verification of a diff, if any.
func (s *VerificationStore) GetVerificationByDiff(ctx context.Context, diffID string) (monitor.Verification, bool, error) {
	var v monitor.Verification
	err := s.pool.QueryRow(ctx, `
SELECT id, diff_id, verified_by, is_false_positive,
       COALESCE(feedback_reason, ''), COALESCE(suppression_rule_id, ''), created_at
FROM verifications WHERE diff_id = $1`, diffID).Scan(
		&v.ID, &v.DiffID, &v.VerifiedBy, &v.IsFalsePositive,
		&v.FeedbackReason, &v.SuppressionRuleID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Verification{}, false, nil
		}
		return monitor.Verification{}, false, fmt.Errorf("get verification for diff %s: %w", diffID, err)
	}
	return v, true, nil
}
