package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/regwatch/regwatch/internal/monitor"
)

// SourceStore reads and schedules monitored sources.
type SourceStore struct {
	pool db
}

// NewSourceStore constructs a store from an existing pool.
func NewSourceStore(pool db) (*SourceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SourceStore{pool: pool}, nil
}

const sourceColumns = `
	id, project_id, name, url, fetch_mode, frequency,
	next_scrape_time, is_active, auth_encrypted,
	monitoring_goal, extraction_hints`

// GetSource fetches one source by ID.
func (s *SourceStore) GetSource(ctx context.Context, id string) (monitor.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Source{}, fmt.Errorf("source %s not found", id)
		}
		return monitor.Source{}, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}

// ListDueSources returns active sources whose next scrape time has
// passed, oldest first. Sources with a NULL next scrape time have never
// run and are due immediately.
func (s *SourceStore) ListDueSources(ctx context.Context, now time.Time, limit int) ([]monitor.Source, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+sourceColumns+`
FROM sources
WHERE is_active = TRUE
  AND (next_scrape_time IS NULL OR next_scrape_time <= $1)
ORDER BY next_scrape_time ASC NULLS FIRST
LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	defer rows.Close()

	var sources []monitor.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due sources: %w", err)
	}
	return sources, nil
}

// AdvanceSchedule moves the source's next scrape time forward.
func (s *SourceStore) AdvanceSchedule(ctx context.Context, sourceID string, next time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET next_scrape_time = $2 WHERE id = $1`, sourceID, next)
	if err != nil {
		return fmt.Errorf("advance schedule for %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s not found", sourceID)
	}
	return nil
}

func scanSource(row pgx.Row) (monitor.Source, error) {
	var src monitor.Source
	err := row.Scan(
		&src.ID,
		&src.ProjectID,
		&src.Name,
		&src.URL,
		&src.FetchMode,
		&src.Frequency,
		&src.NextScrapeTime,
		&src.IsActive,
		&src.AuthEncrypted,
		&src.MonitoringGoal,
		&src.ExtractionHints,
	)
	return src, err
}
