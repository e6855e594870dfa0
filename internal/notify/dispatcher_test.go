package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
	storemem "github.com/regwatch/regwatch/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fakeNotifier struct {
	sent    []string // user IDs, in order
	failFor map[string]error
}

func (f *fakeNotifier) Send(_ context.Context, userID string, _ monitor.Notification) error {
	if err := f.failFor[userID]; err != nil {
		return err
	}
	f.sent = append(f.sent, userID)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return string(rune('a'+s.n-1)) + "-id", nil
}

func newTestDispatcher(store *storemem.Store, notifier *fakeNotifier) *Dispatcher {
	return NewDispatcher(store, store, notifier, &seqIDs{},
		fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func TestNotifyChangeFansOutToAllMembers(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore()
	store.SetProjectMembers("proj-1", []string{"user-1", "user-2"})
	notifier := &fakeNotifier{}
	d := newTestDispatcher(store, notifier)

	source := monitor.Source{ID: "src-1", ProjectID: "proj-1", Name: "Permit fees"}
	rev := monitor.Revision{ID: "rev-1"}
	diff := monitor.Diff{ID: "diff-1", Summary: "Fee rose from 100 to 120 USD."}

	require.NoError(t, d.NotifyChange(context.Background(), source, rev, diff))
	assert.Equal(t, []string{"user-1", "user-2"}, notifier.sent)

	n, found, err := store.FindByRevisionAndUser(context.Background(), "rev-1", "user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, monitor.NotificationSent, n.Status)
	assert.Equal(t, monitor.NotificationChangeDetected, n.Type)
	assert.Contains(t, n.Title, "Permit fees")
	assert.Equal(t, "Fee rose from 100 to 120 USD.", n.Message)
	require.NotNil(t, n.SentAt)
}

func TestNotifyChangeIsIdempotent(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore()
	store.SetProjectMembers("proj-1", []string{"user-1"})
	notifier := &fakeNotifier{}
	d := newTestDispatcher(store, notifier)

	source := monitor.Source{ID: "src-1", ProjectID: "proj-1", Name: "Permit fees"}
	rev := monitor.Revision{ID: "rev-1"}
	diff := monitor.Diff{Summary: "changed"}

	require.NoError(t, d.NotifyChange(context.Background(), source, rev, diff))
	require.NoError(t, d.NotifyChange(context.Background(), source, rev, diff))

	assert.Len(t, notifier.sent, 1, "second run must not resend a SENT notification")
}

func TestNotifyChangeRetriesFailedRecord(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore()
	store.SetProjectMembers("proj-1", []string{"user-1"})
	notifier := &fakeNotifier{failFor: map[string]error{"user-1": errors.New("smtp down")}}
	d := newTestDispatcher(store, notifier)

	source := monitor.Source{ID: "src-1", ProjectID: "proj-1", Name: "Permit fees"}
	rev := monitor.Revision{ID: "rev-1"}

	require.NoError(t, d.NotifyChange(context.Background(), source, rev, monitor.Diff{}))
	n, found, err := store.FindByRevisionAndUser(context.Background(), "rev-1", "user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, monitor.NotificationFailed, n.Status)
	firstID := n.ID

	// Channel recovers; the same event reuses the FAILED record.
	notifier.failFor = nil
	require.NoError(t, d.NotifyChange(context.Background(), source, rev, monitor.Diff{}))

	n, _, err = store.FindByRevisionAndUser(context.Background(), "rev-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, monitor.NotificationSent, n.Status)
	assert.Equal(t, firstID, n.ID, "retry must reuse the existing record")
	assert.Equal(t, []string{"user-1"}, notifier.sent)
}

func TestNotifyFailureKeyedByJob(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore()
	store.SetProjectMembers("proj-1", []string{"user-1"})
	notifier := &fakeNotifier{}
	d := newTestDispatcher(store, notifier)

	source := monitor.Source{ID: "src-1", ProjectID: "proj-1", Name: "Permit fees"}
	job := monitor.Job{ID: "job-1", Attempts: 5, ErrorText: "503 service unavailable"}

	require.NoError(t, d.NotifyFailure(context.Background(), source, job))
	require.NoError(t, d.NotifyFailure(context.Background(), source, job))

	assert.Len(t, notifier.sent, 1)
	n, found, err := store.FindByJobAndUser(context.Background(), "job-1", "user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, monitor.NotificationScrapeFailed, n.Type)
	assert.Contains(t, n.Message, "5 attempts")
	assert.NotContains(t, n.Message, "503", "raw error detail is logged, never delivered")
}

func TestNotifyChangeEmptyProject(t *testing.T) {
	t.Parallel()

	store := storemem.NewStore()
	notifier := &fakeNotifier{}
	d := newTestDispatcher(store, notifier)

	require.NoError(t, d.NotifyChange(context.Background(),
		monitor.Source{ID: "src-1", ProjectID: "proj-empty"},
		monitor.Revision{ID: "rev-1"}, monitor.Diff{}))
	assert.Empty(t, notifier.sent)
}
