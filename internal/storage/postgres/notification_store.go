package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/regwatch/regwatch/internal/monitor"
)

// NotificationStore persists per-recipient delivery records.
type NotificationStore struct {
	pool db
}

// NewNotificationStore constructs a store from an existing pool.
func NewNotificationStore(pool db) (*NotificationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &NotificationStore{pool: pool}, nil
}

const notificationColumns = `
	id, user_id, COALESCE(revision_id, ''), COALESCE(job_id, ''),
	type, status, title, message, COALESCE(action_url, ''),
	created_at, sent_at, read_at`

// FindByRevisionAndUser looks up the change notification for one
// recipient and revision. Used for idempotent fan-out.
func (s *NotificationStore) FindByRevisionAndUser(ctx context.Context, revisionID, userID string) (monitor.Notification, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT`+notificationColumns+`
FROM notifications
WHERE revision_id = $1 AND user_id = $2`, revisionID, userID)
	return scanNotification(row)
}

// FindByJobAndUser looks up the failure notification for one recipient
// and job.
func (s *NotificationStore) FindByJobAndUser(ctx context.Context, jobID, userID string) (monitor.Notification, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT`+notificationColumns+`
FROM notifications
WHERE job_id = $1 AND user_id = $2`, jobID, userID)
	return scanNotification(row)
}

// CreateNotification inserts a new delivery record.
func (s *NotificationStore) CreateNotification(ctx context.Context, n monitor.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO notifications (
	id, user_id, revision_id, job_id, type, status,
	title, message, action_url, created_at
) VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,NULLIF($9,''),$10)`,
		n.ID, n.UserID, n.RevisionID, n.JobID, n.Type, n.Status,
		n.Title, n.Message, n.ActionURL, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// UpdateNotificationStatus records a delivery outcome.
func (s *NotificationStore) UpdateNotificationStatus(ctx context.Context, id string, status monitor.NotificationStatus, sentAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = $2, sent_at = $3 WHERE id = $1`, id, status, sentAt)
	if err != nil {
		return fmt.Errorf("update notification %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not found", id)
	}
	return nil
}

func scanNotification(row pgx.Row) (monitor.Notification, bool, error) {
	var n monitor.Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.RevisionID, &n.JobID,
		&n.Type, &n.Status, &n.Title, &n.Message, &n.ActionURL,
		&n.CreatedAt, &n.SentAt, &n.ReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Notification{}, false, nil
		}
		return monitor.Notification{}, false, fmt.Errorf("scan notification: %w", err)
	}
	return n, true, nil
}
