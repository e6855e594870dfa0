// Package monitor defines core types shared across subsystems.
package monitor

import (
	"net/http"
	"time"
)

// FetchMode selects how a source's content is retrieved.
type FetchMode string

// Fetch modes supported by the pipeline.
const (
	FetchModeHTTP     FetchMode = "http"
	FetchModeRendered FetchMode = "rendered"
)

// Frequency is the scheduling cadence of a source.
type Frequency string

// Scheduling frequencies persisted on sources.
const (
	FrequencyHourly  Frequency = "HOURLY"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Delta returns the scheduling interval for the frequency. Unknown
// frequencies fall back to daily.
func (f Frequency) Delta() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Next returns the next due time when advancing from the given instant.
func (f Frequency) Next(from time.Time) time.Time {
	return from.Add(f.Delta())
}

// Source is a monitored endpoint.
type Source struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	FetchMode       FetchMode  `json:"fetch_mode"`
	Frequency       Frequency  `json:"frequency"`
	NextScrapeTime  *time.Time `json:"next_scrape_time,omitempty"`
	IsActive        bool       `json:"is_active"`
	AuthEncrypted   string     `json:"-"`
	MonitoringGoal  string     `json:"monitoring_goal"`
	ExtractionHints string     `json:"extraction_hints,omitempty"`
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one triggered run of a source. It is created by the
// scheduler, mutated only by the worker executing it, and immutable once
// terminal.
type Job struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	ErrorText   string     `json:"error_text,omitempty"`
	RevisionID  string     `json:"revision_id,omitempty"`
	IsBaseline  bool       `json:"is_baseline"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Revision is one immutable extracted snapshot of a source.
type Revision struct {
	ID                string         `json:"id"`
	SourceID          string         `json:"source_id"`
	BlobURI           string         `json:"blob_uri"`
	ContentHash       string         `json:"content_hash"`
	Extracted         map[string]any `json:"extracted_data"`
	Summary           string         `json:"summary"`
	Confidence        float64        `json:"confidence"`
	WasChangeDetected bool           `json:"was_change_detected"`
	IsBaseline        bool           `json:"is_baseline"`
	ScrapedAt         time.Time      `json:"scraped_at"`
}

// FieldChange is one normalized field-level delta between two revisions.
type FieldChange struct {
	Field    string `json:"field"`
	Path     string `json:"path"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Diff links two revisions when a material change survived suppression.
type Diff struct {
	ID            string        `json:"id"`
	OldRevisionID string        `json:"old_revision_id"`
	NewRevisionID string        `json:"new_revision_id"`
	Summary       string        `json:"summary"`
	ChangeType    string        `json:"change_type"`
	Confidence    float64       `json:"confidence"`
	Changes       []FieldChange `json:"changes"`
	CreatedAt     time.Time     `json:"created_at"`
}

// RuleType is the matching strategy of a suppression rule.
type RuleType string

// Suppression rule types.
const (
	RuleTypeFieldName RuleType = "FIELD_NAME"
	RuleTypeRegex     RuleType = "REGEX"
	RuleTypeJSONPath  RuleType = "JSON_PATH"
)

// SuppressionRule filters field-level changes flagged by the detector.
type SuppressionRule struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Type        RuleType  `json:"rule_type"`
	Pattern     string    `json:"rule_pattern"`
	Description string    `json:"rule_description"`
	CreatedBy   string    `json:"created_by"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Verification is user feedback on a detected change.
type Verification struct {
	ID                string    `json:"id"`
	DiffID            string    `json:"diff_id"`
	VerifiedBy        string    `json:"verified_by"`
	IsFalsePositive   bool      `json:"is_false_positive"`
	FeedbackReason    string    `json:"feedback_reason,omitempty"`
	SuppressionRuleID string    `json:"suppression_rule_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NotificationType distinguishes change alerts from failure alerts.
type NotificationType string

// Notification types.
const (
	NotificationChangeDetected NotificationType = "CHANGE_DETECTED"
	NotificationScrapeFailed   NotificationType = "SCRAPE_FAILED"
)

// NotificationStatus is the delivery lifecycle of a notification.
type NotificationStatus string

// Notification status values.
const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
	NotificationRead    NotificationStatus = "READ"
)

// Notification is one per-recipient delivery record. CHANGE_DETECTED
// records are keyed by (user, revision); SCRAPE_FAILED by (user, job).
type Notification struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	RevisionID string             `json:"revision_id,omitempty"`
	JobID      string             `json:"job_id,omitempty"`
	Type       NotificationType   `json:"type"`
	Status     NotificationStatus `json:"status"`
	Title      string             `json:"title"`
	Message    string             `json:"message"`
	ActionURL  string             `json:"action_url,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	SentAt     *time.Time         `json:"sent_at,omitempty"`
	ReadAt     *time.Time         `json:"read_at,omitempty"`
}

// DeadLetter is the durable record of a job that exhausted its retries.
type DeadLetter struct {
	TaskID            string         `json:"task_id"`
	SourceID          string         `json:"source_id"`
	ErrorMessage      string         `json:"error_message"`
	Timestamp         time.Time      `json:"timestamp"`
	OriginalArguments map[string]any `json:"original_arguments"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string `json:"job_id"`
	SourceID  string `json:"source_id"`
	Submitted int64  `json:"submitted"`
}

// Credentials are decrypted source credentials injected into a fetch.
type Credentials struct {
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// FetchRequest captures everything needed to fetch a source once.
type FetchRequest struct {
	SourceID    string
	URL         string
	Mode        FetchMode
	Credentials *Credentials
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// ExtractionRequest asks the AI capability for structured data.
type ExtractionRequest struct {
	Text            string
	MonitoringGoal  string
	ExtractionHints string
}

// ExtractionResult is the structured output of an extraction call.
type ExtractionResult struct {
	Data       map[string]any `json:"extracted_data"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
}

// SemanticDiffRequest asks the AI capability to compare two payloads.
type SemanticDiffRequest struct {
	OldData        map[string]any
	NewData        map[string]any
	MonitoringGoal string
}

// SemanticDiffResult is the AI's judgement of what changed.
type SemanticDiffResult struct {
	Changed    bool          `json:"changed"`
	Summary    string        `json:"summary"`
	Confidence float64       `json:"confidence"`
	ChangeType string        `json:"change_type"`
	Changes    []FieldChange `json:"changes"`
}
