// Package detect decides whether a new snapshot constitutes a material
// change, applying user suppression rules to the AI's field deltas.
package detect

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Suppressor filters field-level changes against active rules.
type Suppressor struct {
	logger *zap.Logger
}

// NewSuppressor creates a Suppressor.
func NewSuppressor(logger *zap.Logger) *Suppressor {
	return &Suppressor{logger: logger}
}

// Apply returns the changes not matched by any rule. A rule with an
// invalid pattern is skipped rather than blocking detection.
func (s *Suppressor) Apply(rules []monitor.SuppressionRule, changes []monitor.FieldChange) []monitor.FieldChange {
	if len(rules) == 0 || len(changes) == 0 {
		return changes
	}
	kept := make([]monitor.FieldChange, 0, len(changes))
	for _, change := range changes {
		if s.suppressed(rules, change) {
			continue
		}
		kept = append(kept, change)
	}
	return kept
}

func (s *Suppressor) suppressed(rules []monitor.SuppressionRule, change monitor.FieldChange) bool {
	for _, rule := range rules {
		if s.matches(rule, change) {
			return true
		}
	}
	return false
}

func (s *Suppressor) matches(rule monitor.SuppressionRule, change monitor.FieldChange) bool {
	switch rule.Type {
	case monitor.RuleTypeFieldName:
		return change.Field == rule.Pattern
	case monitor.RuleTypeRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			s.logger.Warn("skipping suppression rule with invalid pattern",
				zap.String("rule_id", rule.ID), zap.Error(err))
			return false
		}
		return re.MatchString(change.OldValue) || re.MatchString(change.NewValue)
	case monitor.RuleTypeJSONPath:
		return change.Path == rule.Pattern ||
			strings.HasPrefix(change.Path, rule.Pattern+".")
	default:
		s.logger.Warn("skipping suppression rule with unknown type",
			zap.String("rule_id", rule.ID), zap.String("type", string(rule.Type)))
		return false
	}
}
