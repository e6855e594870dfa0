package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/regwatch/regwatch/internal/monitor"
)

// RevisionStore persists immutable snapshots and their diff records.
type RevisionStore struct {
	pool db
}

// NewRevisionStore constructs a store from an existing pool.
func NewRevisionStore(pool db) (*RevisionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RevisionStore{pool: pool}, nil
}

// LatestRevision returns the most recent revision for the source, or
// false when the source has no history yet.
func (s *RevisionStore) LatestRevision(ctx context.Context, sourceID string) (monitor.Revision, bool, error) {
	var (
		rev       monitor.Revision
		extracted []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, source_id, blob_uri, content_hash, extracted_data,
       COALESCE(summary, ''), confidence, was_change_detected, is_baseline, scraped_at
FROM revisions
WHERE source_id = $1
ORDER BY scraped_at DESC
LIMIT 1`, sourceID).Scan(
		&rev.ID, &rev.SourceID, &rev.BlobURI, &rev.ContentHash, &extracted,
		&rev.Summary, &rev.Confidence, &rev.WasChangeDetected, &rev.IsBaseline, &rev.ScrapedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Revision{}, false, nil
		}
		return monitor.Revision{}, false, fmt.Errorf("latest revision for %s: %w", sourceID, err)
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &rev.Extracted); err != nil {
			return monitor.Revision{}, false, fmt.Errorf("unmarshal extracted data: %w", err)
		}
	}
	return rev, true, nil
}

// SaveRevision writes the revision and, when present, its dependent
// diff in one transaction. The diff references the revision row, so the
// revision insert must land first; a failure on either side rolls back
// both.
func (s *RevisionStore) SaveRevision(ctx context.Context, rev monitor.Revision, diff *monitor.Diff) error {
	if rev.ID == "" {
		return fmt.Errorf("revision id is required")
	}
	extracted, err := json.Marshal(rev.Extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revision tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO revisions (
	id, source_id, blob_uri, content_hash, extracted_data,
	summary, confidence, was_change_detected, is_baseline, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rev.ID, rev.SourceID, rev.BlobURI, rev.ContentHash, extracted,
		rev.Summary, rev.Confidence, rev.WasChangeDetected, rev.IsBaseline, rev.ScrapedAt)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}

	if diff != nil {
		changes, err := json.Marshal(diff.Changes)
		if err != nil {
			return fmt.Errorf("marshal diff changes: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO diffs (
	id, old_revision_id, new_revision_id, summary,
	change_type, confidence, changes, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			diff.ID, diff.OldRevisionID, diff.NewRevisionID, diff.Summary,
			diff.ChangeType, diff.Confidence, changes, diff.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert diff: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revision tx: %w", err)
	}
	return nil
}

// GetDiff fetches one diff by ID.
func (s *RevisionStore) GetDiff(ctx context.Context, id string) (monitor.Diff, bool, error) {
	var (
		diff    monitor.Diff
		changes []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, old_revision_id, new_revision_id, COALESCE(summary, ''),
       change_type, confidence, changes, created_at
FROM diffs WHERE id = $1`, id).Scan(
		&diff.ID, &diff.OldRevisionID, &diff.NewRevisionID, &diff.Summary,
		&diff.ChangeType, &diff.Confidence, &changes, &diff.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Diff{}, false, nil
		}
		return monitor.Diff{}, false, fmt.Errorf("get diff %s: %w", id, err)
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &diff.Changes); err != nil {
			return monitor.Diff{}, false, fmt.Errorf("unmarshal diff changes: %w", err)
		}
	}
	return diff, true, nil
}
