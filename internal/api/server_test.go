package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	coordmem "github.com/regwatch/regwatch/internal/coordination/memory"
	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
	queuemem "github.com/regwatch/regwatch/internal/queue/memory"
	"github.com/regwatch/regwatch/internal/scheduler"
	storemem "github.com/regwatch/regwatch/internal/storage/memory"
	"github.com/regwatch/regwatch/internal/verify"
)

func init() {
	metrics.Init()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixture struct {
	server *Server
	store  *storemem.Store
	coord  *coordmem.Coordinator
	queue  *queuemem.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storemem.NewStore()
	coord := coordmem.New()
	queue := queuemem.NewQueue(16)
	ids := &seqIDs{}
	clock := fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	sched := scheduler.New(store, store, queue, coord, ids, clock,
		scheduler.Config{Interval: time.Minute, LockTTL: 5 * time.Minute}, zap.NewNop())
	verifier := verify.NewService(store, store, store, ids, clock, zap.NewNop())

	return &fixture{
		server: NewServer(store, store, store, store, coord, sched, verifier, zap.NewNop()),
		store:  store,
		coord:  coord,
		queue:  queue,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestTriggerScrape(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.PutSource(monitor.Source{ID: "src-1", Name: "Fees", URL: "https://example.gov", IsActive: true})

	rec := f.do(t, http.MethodPost, "/v1/sources/src-1/scrape", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decode(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, monitor.JobStatusPending, job.Status)

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobID, item.JobID)
}

func TestTriggerScrapeConflictsWhileActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.PutSource(monitor.Source{ID: "src-1", URL: "https://example.gov", IsActive: true})

	first := f.do(t, http.MethodPost, "/v1/sources/src-1/scrape", nil)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.do(t, http.MethodPost, "/v1/sources/src-1/scrape", nil)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestTriggerScrapeUnknownSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/sources/nope/scrape", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.store.CreateJob(context.Background(), monitor.Job{
		ID: "job-1", SourceID: "src-1", Status: monitor.JobStatusPending, CreatedAt: time.Now().UTC(),
	}))

	rec := f.do(t, http.MethodGet, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	missing := f.do(t, http.MethodGet, "/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestGetLatestRevision(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.store.SaveRevision(context.Background(), monitor.Revision{
		ID: "rev-1", SourceID: "src-1", ContentHash: "abc", ScrapedAt: time.Now().UTC(),
	}, nil))

	rec := f.do(t, http.MethodGet, "/v1/sources/src-1/revisions/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	empty := f.do(t, http.MethodGet, "/v1/sources/other/revisions/latest", nil)
	assert.Equal(t, http.StatusNotFound, empty.Code)
}

func TestVerificationFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	diff := monitor.Diff{ID: "diff-1", NewRevisionID: "rev-1", Summary: "changed"}
	require.NoError(t, f.store.SaveRevision(context.Background(), monitor.Revision{
		ID: "rev-1", SourceID: "src-1", ScrapedAt: time.Now().UTC(),
	}, &diff))

	body := verify.Request{
		DiffID:          "diff-1",
		SourceID:        "src-1",
		UserID:          "user-1",
		IsFalsePositive: true,
		Rule:            &verify.RuleSpec{Type: monitor.RuleTypeFieldName, Pattern: "last_updated"},
	}
	rec := f.do(t, http.MethodPost, "/v1/verifications", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	dup := f.do(t, http.MethodPost, "/v1/verifications", body)
	assert.Equal(t, http.StatusConflict, dup.Code)

	rules := f.do(t, http.MethodGet, "/v1/sources/src-1/rules", nil)
	require.Equal(t, http.StatusOK, rules.Code)
	list, _ := decode(t, rules)["rules"].([]any)
	require.Len(t, list, 1)
}

func TestVerificationBadRule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	diff := monitor.Diff{ID: "diff-1", NewRevisionID: "rev-1"}
	require.NoError(t, f.store.SaveRevision(context.Background(), monitor.Revision{
		ID: "rev-1", SourceID: "src-1", ScrapedAt: time.Now().UTC(),
	}, &diff))

	rec := f.do(t, http.MethodPost, "/v1/verifications", verify.Request{
		DiffID:          "diff-1",
		SourceID:        "src-1",
		UserID:          "user-1",
		IsFalsePositive: true,
		Rule:            &verify.RuleSpec{Type: monitor.RuleTypeRegex, Pattern: "("},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeactivateRule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.store.CreateRule(context.Background(), monitor.SuppressionRule{
		ID: "rule-1", SourceID: "src-1", Type: monitor.RuleTypeFieldName,
		Pattern: "fee", IsActive: true, CreatedAt: time.Now().UTC(),
	}))

	rec := f.do(t, http.MethodPost, "/v1/rules/rule-1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rules, err := f.store.ListActiveRules(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Empty(t, rules)

	missing := f.do(t, http.MethodPost, "/v1/rules/nope/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListDeadLetters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.coord.Push(context.Background(), monitor.DeadLetter{
		TaskID: "job-1", SourceID: "src-1", ErrorMessage: "boom", Timestamp: time.Now().UTC(),
	}))

	rec := f.do(t, http.MethodGet, "/v1/deadletters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	letters, _ := decode(t, rec)["dead_letters"].([]any)
	require.Len(t, letters, 1)

	bad := f.do(t, http.MethodGet, "/v1/deadletters?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
