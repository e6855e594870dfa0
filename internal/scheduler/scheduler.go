// Package scheduler periodically finds due sources and dispatches
// scrape jobs, coordinated across replicas by a distributed lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

// DispatchLockKey is the coordination key shared by scheduler replicas.
const DispatchLockKey = "regwatch:dispatch_lock"

// ErrJobAlreadyActive means the source already has a running or queued job.
var ErrJobAlreadyActive = errors.New("source already has an active job")

// Config controls scheduler behavior.
type Config struct {
	Interval  time.Duration
	LockTTL   time.Duration
	BatchSize int
}

// Scheduler dispatches due sources onto the work queue.
type Scheduler struct {
	sources monitor.SourceStore
	jobs    monitor.JobStore
	queue   monitor.Queue
	locker  monitor.Locker
	ids     monitor.IDGenerator
	clock   monitor.Clock
	cfg     Config
	logger  *zap.Logger
}

// New creates a Scheduler.
func New(
	sources monitor.SourceStore,
	jobs monitor.JobStore,
	queue monitor.Queue,
	locker monitor.Locker,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{
		sources: sources,
		jobs:    jobs,
		queue:   queue,
		locker:  locker,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run ticks until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one dispatch round and returns the number of jobs
// dispatched. At most one replica dispatches per tick: the others find
// the lock held and skip. The lock's TTL frees it if a holder crashes.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	acquired, err := s.locker.TryLock(ctx, DispatchLockKey, s.cfg.LockTTL)
	if err != nil {
		metrics.ObserveSchedulerTick("error")
		return 0, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		metrics.ObserveSchedulerTick("skipped")
		s.logger.Debug("dispatch lock held elsewhere, skipping tick")
		return 0, nil
	}
	defer func() {
		if err := s.locker.Unlock(ctx, DispatchLockKey); err != nil {
			s.logger.Warn("dispatch lock release failed", zap.Error(err))
		}
	}()

	now := s.clock.Now()
	due, err := s.sources.ListDueSources(ctx, now, s.cfg.BatchSize)
	if err != nil {
		metrics.ObserveSchedulerTick("error")
		return 0, fmt.Errorf("list due sources: %w", err)
	}

	dispatched := 0
	for _, src := range due {
		if _, err := s.dispatch(ctx, src, now); err != nil {
			if errors.Is(err, ErrJobAlreadyActive) {
				s.logger.Debug("skipping source with active job",
					zap.String("source_id", src.ID))
				continue
			}
			s.logger.Error("dispatch failed",
				zap.String("source_id", src.ID), zap.Error(err))
			continue
		}
		dispatched++
	}

	metrics.ObserveSchedulerTick("dispatched")
	if dispatched > 0 {
		s.logger.Info("dispatched due sources",
			zap.Int("dispatched", dispatched), zap.Int("due", len(due)))
	}
	return dispatched, nil
}

// Trigger dispatches one source immediately, outside its schedule.
// Returns ErrJobAlreadyActive when a job is already queued or running.
func (s *Scheduler) Trigger(ctx context.Context, sourceID string) (string, error) {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return "", err
	}
	return s.dispatch(ctx, src, s.clock.Now())
}

func (s *Scheduler) dispatch(ctx context.Context, src monitor.Source, now time.Time) (string, error) {
	active, err := s.jobs.HasActiveJob(ctx, src.ID)
	if err != nil {
		return "", fmt.Errorf("check active job: %w", err)
	}
	if active {
		return "", ErrJobAlreadyActive
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := monitor.Job{
		ID:        jobID,
		SourceID:  src.ID,
		Status:    monitor.JobStatusPending,
		CreatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, monitor.QueueItem{
		JobID:     jobID,
		SourceID:  src.ID,
		Submitted: now.Unix(),
	}); err != nil {
		// The job row exists but never reached the queue; fail it so the
		// source is not wedged by a phantom active job.
		if failErr := s.jobs.FailJob(ctx, jobID, "enqueue failed: "+err.Error(), now); failErr != nil {
			s.logger.Error("failed to mark unqueued job failed",
				zap.String("job_id", jobID), zap.Error(failErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	// The schedule advances only when the job completes; while the job
	// is queued or running HasActiveJob keeps the source from being
	// dispatched again, and a failed job leaves the source due so the
	// next tick tries afresh.
	return jobID, nil
}
