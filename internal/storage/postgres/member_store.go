package postgres

import (
	"context"
	"fmt"
)

// MemberStore resolves the recipients of a project's notifications.
type MemberStore struct {
	pool db
}

// NewMemberStore constructs a store from an existing pool.
func NewMemberStore(pool db) (*MemberStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MemberStore{pool: pool}, nil
}

// ListProjectUserIDs returns the user IDs of all members of a project.
func (s *MemberStore) ListProjectUserIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM project_members WHERE project_id = $1 ORDER BY user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", projectID, err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return userIDs, nil
}
