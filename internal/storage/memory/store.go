// Package memory provides an in-process implementation of every
// persistence interface, for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Store holds all state behind one mutex. Single-process only.
type Store struct {
	mu            sync.Mutex
	sources       map[string]monitor.Source
	jobs          map[string]monitor.Job
	revisions     map[string]monitor.Revision
	diffs         map[string]monitor.Diff
	rules         map[string]monitor.SuppressionRule
	verifications map[string]monitor.Verification
	notifications map[string]monitor.Notification
	members       map[string][]string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sources:       make(map[string]monitor.Source),
		jobs:          make(map[string]monitor.Job),
		revisions:     make(map[string]monitor.Revision),
		diffs:         make(map[string]monitor.Diff),
		rules:         make(map[string]monitor.SuppressionRule),
		verifications: make(map[string]monitor.Verification),
		notifications: make(map[string]monitor.Notification),
		members:       make(map[string][]string),
	}
}

// PutSource inserts or replaces a source. Test/dev seeding helper.
func (s *Store) PutSource(src monitor.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
}

// SetProjectMembers seeds the member list of a project.
func (s *Store) SetProjectMembers(projectID string, userIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[projectID] = append([]string(nil), userIDs...)
}

// GetSource fetches one source by ID.
func (s *Store) GetSource(_ context.Context, id string) (monitor.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return monitor.Source{}, fmt.Errorf("source %s not found", id)
	}
	return src, nil
}

// ListDueSources returns active sources due at or before now.
func (s *Store) ListDueSources(_ context.Context, now time.Time, limit int) ([]monitor.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []monitor.Source
	for _, src := range s.sources {
		if !src.IsActive {
			continue
		}
		if src.NextScrapeTime == nil || !src.NextScrapeTime.After(now) {
			due = append(due, src)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextScrapeTime, due[j].NextScrapeTime
		switch {
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// AdvanceSchedule moves the source's next scrape time forward.
func (s *Store) AdvanceSchedule(_ context.Context, sourceID string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %s not found", sourceID)
	}
	src.NextScrapeTime = &next
	s.sources[sourceID] = src
	return nil
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(_ context.Context, job monitor.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches one job by ID.
func (s *Store) GetJob(_ context.Context, id string) (monitor.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return monitor.Job{}, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

// MarkJobStarted transitions the job to IN_PROGRESS and bumps attempts.
func (s *Store) MarkJobStarted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.Status = monitor.JobStatusInProgress
	job.Attempts++
	job.StartedAt = &at
	s.jobs[id] = job
	return nil
}

// CompleteJob transitions the job to COMPLETED.
func (s *Store) CompleteJob(_ context.Context, id, revisionID string, baseline bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.Status = monitor.JobStatusCompleted
	job.RevisionID = revisionID
	job.IsBaseline = baseline
	job.CompletedAt = &at
	job.ErrorText = ""
	s.jobs[id] = job
	return nil
}

// FailJob transitions the job to FAILED.
func (s *Store) FailJob(_ context.Context, id, errText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.Status = monitor.JobStatusFailed
	job.ErrorText = errText
	job.CompletedAt = &at
	s.jobs[id] = job
	return nil
}

// HasActiveJob reports whether the source has a non-terminal job.
func (s *Store) HasActiveJob(_ context.Context, sourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.SourceID == sourceID && !job.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// LatestRevision returns the newest revision for the source.
func (s *Store) LatestRevision(_ context.Context, sourceID string) (monitor.Revision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest monitor.Revision
		found  bool
	)
	for _, rev := range s.revisions {
		if rev.SourceID != sourceID {
			continue
		}
		if !found || rev.ScrapedAt.After(latest.ScrapedAt) {
			latest = rev
			found = true
		}
	}
	return latest, found, nil
}

// SaveRevision writes the revision and optional diff atomically.
func (s *Store) SaveRevision(_ context.Context, rev monitor.Revision, diff *monitor.Diff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev.ID == "" {
		return fmt.Errorf("revision id is required")
	}
	if diff != nil && diff.ID == "" {
		return fmt.Errorf("diff id is required")
	}
	s.revisions[rev.ID] = rev
	if diff != nil {
		s.diffs[diff.ID] = *diff
	}
	return nil
}

// GetDiff fetches one diff by ID.
func (s *Store) GetDiff(_ context.Context, id string) (monitor.Diff, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diff, ok := s.diffs[id]
	return diff, ok, nil
}

// CreateRule inserts a suppression rule.
func (s *Store) CreateRule(_ context.Context, rule monitor.SuppressionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	s.rules[rule.ID] = rule
	return nil
}

// ListActiveRules returns the active rules for a source, oldest first.
func (s *Store) ListActiveRules(_ context.Context, sourceID string) ([]monitor.SuppressionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rules []monitor.SuppressionRule
	for _, rule := range s.rules {
		if rule.SourceID == sourceID && rule.IsActive {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// SetRuleActive toggles a rule.
func (s *Store) SetRuleActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("suppression rule %s not found", id)
	}
	rule.IsActive = active
	s.rules[id] = rule
	return nil
}

// CreateVerification inserts a verification; one per diff.
func (s *Store) CreateVerification(_ context.Context, v monitor.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		return fmt.Errorf("verification id is required")
	}
	for _, existing := range s.verifications {
		if existing.DiffID == v.DiffID {
			return fmt.Errorf("diff %s already verified", v.DiffID)
		}
	}
	s.verifications[v.ID] = v
	return nil
}

// GetVerificationByDiff returns the verification of a diff, if any.
func (s *Store) GetVerificationByDiff(_ context.Context, diffID string) (monitor.Verification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.verifications {
		if v.DiffID == diffID {
			return v, true, nil
		}
	}
	return monitor.Verification{}, false, nil
}

// FindByRevisionAndUser looks up a change notification.
func (s *Store) FindByRevisionAndUser(_ context.Context, revisionID, userID string) (monitor.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.RevisionID == revisionID && n.UserID == userID {
			return n, true, nil
		}
	}
	return monitor.Notification{}, false, nil
}

// FindByJobAndUser looks up a failure notification.
func (s *Store) FindByJobAndUser(_ context.Context, jobID, userID string) (monitor.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.JobID == jobID && n.UserID == userID {
			return n, true, nil
		}
	}
	return monitor.Notification{}, false, nil
}

// CreateNotification inserts a delivery record.
func (s *Store) CreateNotification(_ context.Context, n monitor.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	s.notifications[n.ID] = n
	return nil
}

// UpdateNotificationStatus records a delivery outcome.
func (s *Store) UpdateNotificationStatus(_ context.Context, id string, status monitor.NotificationStatus, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	n.Status = status
	n.SentAt = sentAt
	s.notifications[id] = n
	return nil
}

// ListProjectUserIDs returns a project's member user IDs.
func (s *Store) ListProjectUserIDs(_ context.Context, projectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.members[projectID]...), nil
}
