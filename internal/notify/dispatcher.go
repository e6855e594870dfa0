// Package notify fans pipeline outcomes out to project members as
// idempotent per-recipient notifications.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

// Dispatcher creates and delivers notifications. Delivery is best
// effort: a failed send leaves a FAILED record that a later run of the
// same event retries, and never fails the pipeline.
type Dispatcher struct {
	members  monitor.MemberStore
	store    monitor.NotificationStore
	notifier monitor.Notifier
	ids      monitor.IDGenerator
	clock    monitor.Clock
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	members monitor.MemberStore,
	store monitor.NotificationStore,
	notifier monitor.Notifier,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		members:  members,
		store:    store,
		notifier: notifier,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
}

// NotifyChange alerts every project member that a material change was
// detected. Idempotent per (user, revision): re-running the same
// revision resends only to recipients without a SENT record.
func (d *Dispatcher) NotifyChange(ctx context.Context, source monitor.Source, rev monitor.Revision, diff monitor.Diff) error {
	userIDs, err := d.members.ListProjectUserIDs(ctx, source.ProjectID)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}
	for _, userID := range userIDs {
		n := monitor.Notification{
			UserID:     userID,
			RevisionID: rev.ID,
			Type:       monitor.NotificationChangeDetected,
			Title:      fmt.Sprintf("Change detected: %s", source.Name),
			Message:    diff.Summary,
			ActionURL:  fmt.Sprintf("/sources/%s/revisions/%s", source.ID, rev.ID),
		}
		d.deliver(ctx, n, func() (monitor.Notification, bool, error) {
			return d.store.FindByRevisionAndUser(ctx, rev.ID, userID)
		})
	}
	return nil
}

// NotifyFailure alerts every project member that a source could not be
// scraped. Idempotent per (user, job).
func (d *Dispatcher) NotifyFailure(ctx context.Context, source monitor.Source, job monitor.Job) error {
	userIDs, err := d.members.ListProjectUserIDs(ctx, source.ProjectID)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}
	// Raw error detail stays in the logs; recipients get a sanitized
	// message only.
	d.logger.Warn("announcing scrape failure",
		zap.String("source_id", source.ID),
		zap.String("job_id", job.ID),
		zap.String("error", job.ErrorText))
	for _, userID := range userIDs {
		n := monitor.Notification{
			UserID:  userID,
			JobID:   job.ID,
			Type:    monitor.NotificationScrapeFailed,
			Title:   fmt.Sprintf("Monitoring failed: %s", source.Name),
			Message: fmt.Sprintf("The source could not be retrieved after %d attempts.", job.Attempts),
		}
		d.deliver(ctx, n, func() (monitor.Notification, bool, error) {
			return d.store.FindByJobAndUser(ctx, job.ID, userID)
		})
	}
	return nil
}

// deliver resolves the existing record for the event and recipient,
// creates one when missing, and attempts the send.
func (d *Dispatcher) deliver(ctx context.Context, n monitor.Notification, find func() (monitor.Notification, bool, error)) {
	existing, found, err := find()
	if err != nil {
		d.logger.Error("notification lookup failed",
			zap.String("user_id", n.UserID), zap.Error(err))
		return
	}

	switch {
	case found && (existing.Status == monitor.NotificationSent || existing.Status == monitor.NotificationRead):
		return // already delivered
	case found:
		n = existing // retry the PENDING or FAILED record
	default:
		id, err := d.ids.NewID()
		if err != nil {
			d.logger.Error("notification id generation failed", zap.Error(err))
			return
		}
		n.ID = id
		n.Status = monitor.NotificationPending
		n.CreatedAt = d.clock.Now()
		if err := d.store.CreateNotification(ctx, n); err != nil {
			d.logger.Error("notification create failed",
				zap.String("user_id", n.UserID), zap.Error(err))
			return
		}
	}

	if err := d.notifier.Send(ctx, n.UserID, n); err != nil {
		d.logger.Warn("notification send failed",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Error(err))
		metrics.ObserveNotification(string(n.Type), string(monitor.NotificationFailed))
		if err := d.store.UpdateNotificationStatus(ctx, n.ID, monitor.NotificationFailed, nil); err != nil {
			d.logger.Error("notification status update failed",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
		return
	}

	sentAt := d.clock.Now()
	metrics.ObserveNotification(string(n.Type), string(monitor.NotificationSent))
	if err := d.store.UpdateNotificationStatus(ctx, n.ID, monitor.NotificationSent, &sentAt); err != nil {
		d.logger.Error("notification status update failed",
			zap.String("notification_id", n.ID), zap.Error(err))
	}
}
