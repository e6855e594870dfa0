package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/regwatch/regwatch/internal/monitor"
)

// JobStore persists scrape job lifecycle state.
type JobStore struct {
	pool db
}

// NewJobStore constructs a store from an existing pool.
func NewJobStore(pool db) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// CreateJob inserts a new pending job.
func (s *JobStore) CreateJob(ctx context.Context, job monitor.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO jobs (id, source_id, status, attempts, is_baseline, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.SourceID, job.Status, job.Attempts, job.IsBaseline, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (monitor.Job, error) {
	var job monitor.Job
	err := s.pool.QueryRow(ctx, `
SELECT id, source_id, status, attempts, COALESCE(error_text, ''),
       COALESCE(revision_id, ''), is_baseline, created_at, started_at, completed_at
FROM jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.SourceID, &job.Status, &job.Attempts, &job.ErrorText,
		&job.RevisionID, &job.IsBaseline, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Job{}, fmt.Errorf("job %s not found", id)
		}
		return monitor.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// MarkJobStarted transitions the job to IN_PROGRESS and bumps the
// attempt counter. Called once per attempt.
func (s *JobStore) MarkJobStarted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs
SET status = $2, attempts = attempts + 1, started_at = $3
WHERE id = $1`,
		id, monitor.JobStatusInProgress, at)
	if err != nil {
		return fmt.Errorf("mark job %s started: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// CompleteJob transitions the job to COMPLETED and links its revision.
func (s *JobStore) CompleteJob(ctx context.Context, id, revisionID string, baseline bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs
SET status = $2, revision_id = $3, is_baseline = $4, completed_at = $5, error_text = NULL
WHERE id = $1`,
		id, monitor.JobStatusCompleted, revisionID, baseline, at)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// FailJob transitions the job to FAILED with its final error text.
func (s *JobStore) FailJob(ctx context.Context, id, errText string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs
SET status = $2, error_text = $3, completed_at = $4
WHERE id = $1`,
		id, monitor.JobStatusFailed, errText, at)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// HasActiveJob reports whether the source already has a non-terminal
// job. The scheduler uses this to avoid double-dispatch.
func (s *JobStore) HasActiveJob(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM jobs
	WHERE source_id = $1 AND status IN ($2, $3)
)`, sourceID, monitor.JobStatusPending, monitor.JobStatusInProgress).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active job for %s: %w", sourceID, err)
	}
	return exists, nil
}
