package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regwatch/regwatch/internal/monitor"
)

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := monitor.Job{
		ID:        "job-1",
		SourceID:  "src-1",
		Status:    monitor.JobStatusPending,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(job.ID, job.SourceID, job.Status, job.Attempts, job.IsBaseline, job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	assert.Error(t, store.CreateJob(context.Background(), monitor.Job{}))
}

func TestMarkJobStartedBumpsAttempts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", monitor.JobStatusInProgress, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkJobStarted(context.Background(), "job-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobStartedMissingJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("missing", monitor.JobStatusInProgress, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.Error(t, store.MarkJobStarted(context.Background(), "missing", time.Now()))
}

func TestHasActiveJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("src-1", monitor.JobStatusPending, monitor.JobStatusInProgress).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := store.HasActiveJob(context.Background(), "src-1")
	require.NoError(t, err)
	assert.True(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}
