package detect

import (
	"context"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Decision is the outcome of comparing a new extraction to the prior one.
type Decision struct {
	// Changed means a material change survived suppression and should
	// produce a diff and notifications.
	Changed bool
	// Suppressed means the AI reported changes but every field delta
	// matched an active suppression rule.
	Suppressed bool
	// Result carries the AI judgement, with Changes already filtered.
	Result monitor.SemanticDiffResult
}

// Detector runs the semantic comparison and applies suppression.
type Detector struct {
	extractor  monitor.Extractor
	rules      monitor.SuppressionStore
	suppressor *Suppressor
	logger     *zap.Logger
}

// NewDetector creates a Detector.
func NewDetector(extractor monitor.Extractor, rules monitor.SuppressionStore, logger *zap.Logger) *Detector {
	return &Detector{
		extractor:  extractor,
		rules:      rules,
		suppressor: NewSuppressor(logger),
		logger:     logger,
	}
}

// Evaluate compares old and new extracted data for the source. A failed
// comparison is treated as a change: a missed update costs users more
// than a spurious alert.
func (d *Detector) Evaluate(ctx context.Context, source monitor.Source, oldData, newData map[string]any) (Decision, error) {
	result, err := d.extractor.CompareStructured(ctx, monitor.SemanticDiffRequest{
		OldData:        oldData,
		NewData:        newData,
		MonitoringGoal: source.MonitoringGoal,
	})
	if err != nil {
		d.logger.Warn("semantic comparison failed, assuming change",
			zap.String("source_id", source.ID), zap.Error(err))
		return Decision{
			Changed: true,
			Result: monitor.SemanticDiffResult{
				Changed:    true,
				Summary:    "Semantic comparison unavailable; content may have changed.",
				Confidence: 0,
				ChangeType: "content",
			},
		}, nil
	}

	if !result.Changed {
		return Decision{Result: result}, nil
	}

	rules, err := d.rules.ListActiveRules(ctx, source.ID)
	if err != nil {
		return Decision{}, err
	}

	kept := d.suppressor.Apply(rules, result.Changes)
	// A fully-suppressed change set means nothing material happened.
	// A change with no field deltas at all cannot be suppressed.
	if len(result.Changes) > 0 && len(kept) == 0 {
		d.logger.Info("change fully suppressed",
			zap.String("source_id", source.ID),
			zap.Int("suppressed_changes", len(result.Changes)))
		result.Changed = false
		result.Changes = nil
		return Decision{Suppressed: true, Result: result}, nil
	}

	result.Changes = kept
	return Decision{Changed: true, Result: result}, nil
}
