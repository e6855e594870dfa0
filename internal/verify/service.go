// Package verify records user feedback on detected changes and turns
// false positives into suppression rules.
package verify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Errors returned by Verify.
var (
	ErrDiffNotFound    = errors.New("diff not found")
	ErrAlreadyVerified = errors.New("diff already verified")
	ErrInvalidRule     = errors.New("invalid suppression rule")
)

// RuleSpec describes an optional suppression rule to create alongside
// a false-positive verification.
type RuleSpec struct {
	Type        monitor.RuleType `json:"rule_type"`
	Pattern     string           `json:"rule_pattern"`
	Description string           `json:"rule_description"`
}

// Request is one verification submission.
type Request struct {
	DiffID          string    `json:"diff_id"`
	SourceID        string    `json:"source_id"`
	UserID          string    `json:"user_id"`
	IsFalsePositive bool      `json:"is_false_positive"`
	FeedbackReason  string    `json:"feedback_reason,omitempty"`
	Rule            *RuleSpec `json:"suppression_rule,omitempty"`
}

// Service verifies diffs. Each diff accepts exactly one verification.
type Service struct {
	revisions     monitor.RevisionStore
	verifications monitor.VerificationStore
	rules         monitor.SuppressionStore
	ids           monitor.IDGenerator
	clock         monitor.Clock
	logger        *zap.Logger
}

// NewService constructs a Service.
func NewService(
	revisions monitor.RevisionStore,
	verifications monitor.VerificationStore,
	rules monitor.SuppressionStore,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		revisions:     revisions,
		verifications: verifications,
		rules:         rules,
		ids:           ids,
		clock:         clock,
		logger:        logger,
	}
}

// Verify records the feedback and, for false positives carrying a rule
// spec, creates the suppression rule first so the verification can
// reference it. The rule is validated before anything is written.
func (s *Service) Verify(ctx context.Context, req Request) (monitor.Verification, error) {
	if _, found, err := s.revisions.GetDiff(ctx, req.DiffID); err != nil {
		return monitor.Verification{}, fmt.Errorf("load diff: %w", err)
	} else if !found {
		return monitor.Verification{}, ErrDiffNotFound
	}

	if _, exists, err := s.verifications.GetVerificationByDiff(ctx, req.DiffID); err != nil {
		return monitor.Verification{}, fmt.Errorf("check existing verification: %w", err)
	} else if exists {
		return monitor.Verification{}, ErrAlreadyVerified
	}

	now := s.clock.Now()

	var ruleID string
	if req.Rule != nil {
		if !req.IsFalsePositive {
			return monitor.Verification{}, fmt.Errorf("%w: rules only accompany false positives", ErrInvalidRule)
		}
		rule, err := s.buildRule(req, now)
		if err != nil {
			return monitor.Verification{}, err
		}
		if err := s.rules.CreateRule(ctx, rule); err != nil {
			return monitor.Verification{}, fmt.Errorf("create suppression rule: %w", err)
		}
		ruleID = rule.ID
		s.logger.Info("suppression rule created",
			zap.String("rule_id", rule.ID),
			zap.String("source_id", rule.SourceID),
			zap.String("rule_type", string(rule.Type)))
	}

	id, err := s.ids.NewID()
	if err != nil {
		return monitor.Verification{}, fmt.Errorf("generate verification id: %w", err)
	}
	v := monitor.Verification{
		ID:                id,
		DiffID:            req.DiffID,
		VerifiedBy:        req.UserID,
		IsFalsePositive:   req.IsFalsePositive,
		FeedbackReason:    req.FeedbackReason,
		SuppressionRuleID: ruleID,
		CreatedAt:         now,
	}
	if err := s.verifications.CreateVerification(ctx, v); err != nil {
		return monitor.Verification{}, fmt.Errorf("create verification: %w", err)
	}

	s.logger.Info("diff verified",
		zap.String("diff_id", req.DiffID),
		zap.String("verified_by", req.UserID),
		zap.Bool("false_positive", req.IsFalsePositive))
	return v, nil
}

func (s *Service) buildRule(req Request, now time.Time) (monitor.SuppressionRule, error) {
	spec := req.Rule
	if req.SourceID == "" {
		return monitor.SuppressionRule{}, fmt.Errorf("%w: source_id required", ErrInvalidRule)
	}
	if spec.Pattern == "" {
		return monitor.SuppressionRule{}, fmt.Errorf("%w: empty pattern", ErrInvalidRule)
	}
	switch spec.Type {
	case monitor.RuleTypeFieldName, monitor.RuleTypeJSONPath:
	case monitor.RuleTypeRegex:
		if _, err := regexp.Compile(spec.Pattern); err != nil {
			return monitor.SuppressionRule{}, fmt.Errorf("%w: pattern does not compile: %v", ErrInvalidRule, err)
		}
	default:
		return monitor.SuppressionRule{}, fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, spec.Type)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return monitor.SuppressionRule{}, fmt.Errorf("generate rule id: %w", err)
	}
	return monitor.SuppressionRule{
		ID:          id,
		SourceID:    req.SourceID,
		Type:        spec.Type,
		Pattern:     spec.Pattern,
		Description: spec.Description,
		CreatedBy:   req.UserID,
		IsActive:    true,
		CreatedAt:   now,
	}, nil
}
