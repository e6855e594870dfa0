package verify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/monitor"
	storemem "github.com/regwatch/regwatch/internal/storage/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newFixture(t *testing.T) (*Service, *storemem.Store) {
	t.Helper()
	store := storemem.NewStore()
	svc := NewService(store, store, store, &seqIDs{},
		fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
	return svc, store
}

func seedDiff(t *testing.T, store *storemem.Store) monitor.Diff {
	t.Helper()
	diff := monitor.Diff{
		ID:            "diff-1",
		OldRevisionID: "rev-0",
		NewRevisionID: "rev-1",
		Summary:       "Fee changed.",
		Changes:       []monitor.FieldChange{{Field: "fee", OldValue: "100", NewValue: "120"}},
	}
	require.NoError(t, store.SaveRevision(context.Background(), monitor.Revision{
		ID: "rev-1", SourceID: "src-1", ScrapedAt: time.Now().UTC(),
	}, &diff))
	return diff
}

func TestVerifyTruePositive(t *testing.T) {
	t.Parallel()

	svc, store := newFixture(t)
	diff := seedDiff(t, store)

	v, err := svc.Verify(context.Background(), Request{
		DiffID: diff.ID, SourceID: "src-1", UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, diff.ID, v.DiffID)
	assert.Equal(t, "user-1", v.VerifiedBy)
	assert.False(t, v.IsFalsePositive)
	assert.Empty(t, v.SuppressionRuleID)

	stored, found, err := store.GetVerificationByDiff(context.Background(), diff.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v.ID, stored.ID)
}

func TestVerifyFalsePositiveCreatesRule(t *testing.T) {
	t.Parallel()

	svc, store := newFixture(t)
	diff := seedDiff(t, store)

	v, err := svc.Verify(context.Background(), Request{
		DiffID:          diff.ID,
		SourceID:        "src-1",
		UserID:          "user-1",
		IsFalsePositive: true,
		FeedbackReason:  "timestamp churn",
		Rule: &RuleSpec{
			Type:        monitor.RuleTypeFieldName,
			Pattern:     "last_updated",
			Description: "page render timestamp",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, v.SuppressionRuleID)

	rules, err := store.ListActiveRules(context.Background(), "src-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, v.SuppressionRuleID, rules[0].ID)
	assert.Equal(t, monitor.RuleTypeFieldName, rules[0].Type)
	assert.Equal(t, "last_updated", rules[0].Pattern)
	assert.Equal(t, "user-1", rules[0].CreatedBy)
	assert.True(t, rules[0].IsActive)
}

func TestVerifyRejectsSecondVerification(t *testing.T) {
	t.Parallel()

	svc, store := newFixture(t)
	diff := seedDiff(t, store)

	_, err := svc.Verify(context.Background(), Request{DiffID: diff.ID, UserID: "user-1"})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), Request{DiffID: diff.ID, UserID: "user-2"})
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestVerifyUnknownDiff(t *testing.T) {
	t.Parallel()

	svc, _ := newFixture(t)
	_, err := svc.Verify(context.Background(), Request{DiffID: "nope", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrDiffNotFound)
}

func TestVerifyInvalidRegexRule(t *testing.T) {
	t.Parallel()

	svc, store := newFixture(t)
	diff := seedDiff(t, store)

	_, err := svc.Verify(context.Background(), Request{
		DiffID:          diff.ID,
		SourceID:        "src-1",
		UserID:          "user-1",
		IsFalsePositive: true,
		Rule:            &RuleSpec{Type: monitor.RuleTypeRegex, Pattern: "("},
	})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, found, err := store.GetVerificationByDiff(context.Background(), diff.ID)
	require.NoError(t, err)
	assert.False(t, found, "rejected rules must not leave a verification behind")
}

func TestVerifyRuleRequiresFalsePositive(t *testing.T) {
	t.Parallel()

	svc, store := newFixture(t)
	diff := seedDiff(t, store)

	_, err := svc.Verify(context.Background(), Request{
		DiffID:   diff.ID,
		SourceID: "src-1",
		UserID:   "user-1",
		Rule:     &RuleSpec{Type: monitor.RuleTypeFieldName, Pattern: "fee"},
	})
	assert.ErrorIs(t, err, ErrInvalidRule)
}
