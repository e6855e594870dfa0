package monitor

import (
	"context"
	"time"
)

// SourceStore reads and schedules monitored sources.
type SourceStore interface {
	GetSource(ctx context.Context, id string) (Source, error)
	ListDueSources(ctx context.Context, now time.Time, limit int) ([]Source, error)
	AdvanceSchedule(ctx context.Context, sourceID string, next time.Time) error
}

// JobStore persists job lifecycle state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	MarkJobStarted(ctx context.Context, id string, at time.Time) error
	CompleteJob(ctx context.Context, id, revisionID string, baseline bool, at time.Time) error
	FailJob(ctx context.Context, id, errText string, at time.Time) error
	HasActiveJob(ctx context.Context, sourceID string) (bool, error)
}

// RevisionStore persists immutable snapshots and diff records.
// SaveRevision writes the revision and, when non-nil, the dependent diff
// in one transaction; both succeed or neither is written.
type RevisionStore interface {
	LatestRevision(ctx context.Context, sourceID string) (Revision, bool, error)
	SaveRevision(ctx context.Context, rev Revision, diff *Diff) error
	GetDiff(ctx context.Context, id string) (Diff, bool, error)
}

// SuppressionStore manages per-source suppression rules.
type SuppressionStore interface {
	CreateRule(ctx context.Context, rule SuppressionRule) error
	ListActiveRules(ctx context.Context, sourceID string) ([]SuppressionRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
}

// VerificationStore records user feedback on diffs.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v Verification) error
	GetVerificationByDiff(ctx context.Context, diffID string) (Verification, bool, error)
}

// NotificationStore persists per-recipient delivery records.
type NotificationStore interface {
	FindByRevisionAndUser(ctx context.Context, revisionID, userID string) (Notification, bool, error)
	FindByJobAndUser(ctx context.Context, jobID, userID string) (Notification, bool, error)
	CreateNotification(ctx context.Context, n Notification) error
	UpdateNotificationStatus(ctx context.Context, id string, status NotificationStatus, sentAt *time.Time) error
}

// MemberStore resolves the recipients of a project's notifications.
type MemberStore interface {
	ListProjectUserIDs(ctx context.Context, projectID string) ([]string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes pipeline events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Fetcher fetches a source URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Normalizer reduces raw markup to comparable plain text.
type Normalizer interface {
	Normalize(raw []byte) (string, error)
}

// Extractor is the injected AI capability: structured extraction and
// semantic comparison. Implementations retry transient failures
// internally; callers apply the fail-safe default on persistent failure.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error)
	CompareStructured(ctx context.Context, req SemanticDiffRequest) (SemanticDiffResult, error)
}

// CredentialDecryptor opens a source's encrypted credential blob.
type CredentialDecryptor interface {
	Decrypt(blob string) (Credentials, error)
}

// Locker is a short-TTL advisory lock in the coordination store. The
// lock self-expires; holders that crash cannot stall later ticks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// BusyMarker records best-effort per-origin request spacing.
type BusyMarker interface {
	IsBusy(ctx context.Context, origin string) (bool, error)
	MarkBusy(ctx context.Context, origin string, ttl time.Duration) error
}

// DeadLetterQueue stores jobs that exhausted their retry budget.
type DeadLetterQueue interface {
	Push(ctx context.Context, entry DeadLetter) error
	List(ctx context.Context, limit int64) ([]DeadLetter, error)
}

// Notifier delivers one notification to one recipient.
type Notifier interface {
	Send(ctx context.Context, userID string, n Notification) error
}

// Hasher computes digests for the cheap change gate.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
