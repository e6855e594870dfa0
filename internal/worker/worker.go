package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

// pipelineRunner abstracts the pipeline for tests.
type pipelineRunner interface {
	Run(ctx context.Context, source monitor.Source) (Outcome, error)
}

// eventNotifier fans a pipeline outcome out to project members.
type eventNotifier interface {
	NotifyChange(ctx context.Context, source monitor.Source, rev monitor.Revision, diff monitor.Diff) error
	NotifyFailure(ctx context.Context, source monitor.Source, job monitor.Job) error
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a completion event per finished job; empty
	// disables publishing.
	Topic string
}

// Worker consumes queue items and drives jobs through the pipeline
// with retries. A job that exhausts its retry budget is failed,
// dead-lettered, and announced to the project.
type Worker struct {
	queue     monitor.Queue
	jobs      monitor.JobStore
	sources   monitor.SourceStore
	pipeline  pipelineRunner
	policy    *monitor.RetryPolicy
	dlq       monitor.DeadLetterQueue
	notifier  eventNotifier
	publisher monitor.Publisher
	clock     monitor.Clock
	cfg       Config
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New constructs a Worker.
func New(
	queue monitor.Queue,
	jobs monitor.JobStore,
	sources monitor.SourceStore,
	pipeline pipelineRunner,
	policy *monitor.RetryPolicy,
	dlq monitor.DeadLetterQueue,
	notifier eventNotifier,
	publisher monitor.Publisher,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		sources:   sources,
		pipeline:  pipeline,
		policy:    policy,
		dlq:       dlq,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item monitor.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	job, err := w.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("job lookup failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		w.logger.Warn("skipping terminal job", zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)))
		return
	}
	source, err := w.sources.GetSource(ctx, job.SourceID)
	if err != nil {
		w.failJob(ctx, source, job, "source lookup failed: "+err.Error())
		return
	}

	for attempt := 0; ; attempt++ {
		if err := w.jobs.MarkJobStarted(ctx, job.ID, w.clock.Now()); err != nil {
			w.logger.Error("mark job started failed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		job.Attempts = attempt + 1

		outcome, runErr := w.pipeline.Run(ctx, source)
		if runErr == nil {
			w.completeJob(ctx, source, job, outcome)
			return
		}

		if !w.policy.ShouldRetry(runErr, attempt) {
			metrics.ObserveJobAttempt("dead_letter")
			w.failJob(ctx, source, job, runErr.Error())
			return
		}

		backoff := w.policy.Backoff(attempt)
		metrics.ObserveJobAttempt("retry")
		w.logger.Warn("attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("source_id", source.ID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(runErr))
		if err := w.sleep(ctx, backoff); err != nil {
			w.failJob(ctx, source, job, "canceled during backoff: "+runErr.Error())
			return
		}
	}
}

func (w *Worker) completeJob(ctx context.Context, source monitor.Source, job monitor.Job, outcome Outcome) {
	now := w.clock.Now()
	if err := w.jobs.CompleteJob(ctx, job.ID, outcome.Revision.ID, outcome.Baseline, now); err != nil {
		w.logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(monitor.JobStatusCompleted))
	metrics.ObserveJobAttempt("success")

	// Success advances the source's schedule from completion time; a
	// failed job leaves it due so the scheduler retries next tick.
	if err := w.sources.AdvanceSchedule(ctx, source.ID, source.Frequency.Next(now)); err != nil {
		w.logger.Error("advance schedule failed",
			zap.String("source_id", source.ID), zap.Error(err))
	}

	w.publishCompletion(ctx, job.ID, source, outcome)

	if outcome.Diff != nil && w.notifier != nil {
		if err := w.notifier.NotifyChange(ctx, source, outcome.Revision, *outcome.Diff); err != nil {
			w.logger.Error("change notification failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	w.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("source_id", source.ID),
		zap.String("revision_id", outcome.Revision.ID),
		zap.Bool("baseline", outcome.Baseline),
		zap.Bool("unchanged", outcome.Unchanged),
		zap.Bool("changed", outcome.Diff != nil))
}

// failJob finalizes a job that will not run again: FAILED status, a
// dead letter entry, and a failure notification to the project.
func (w *Worker) failJob(ctx context.Context, source monitor.Source, job monitor.Job, errText string) {
	now := w.clock.Now()
	if err := w.jobs.FailJob(ctx, job.ID, errText, now); err != nil {
		w.logger.Error("fail job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	job.Status = monitor.JobStatusFailed
	job.ErrorText = errText
	metrics.ObserveJob(string(monitor.JobStatusFailed))

	if w.dlq != nil {
		entry := monitor.DeadLetter{
			TaskID:       job.ID,
			SourceID:     job.SourceID,
			ErrorMessage: errText,
			Timestamp:    now,
			OriginalArguments: map[string]any{
				"source_id": job.SourceID,
				"job_id":    job.ID,
				"attempts":  job.Attempts,
			},
		}
		if err := w.dlq.Push(ctx, entry); err != nil {
			w.logger.Error("dead letter push failed", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			metrics.ObserveDeadLetter()
		}
	}

	if w.notifier != nil && source.ID != "" {
		if err := w.notifier.NotifyFailure(ctx, source, job); err != nil {
			w.logger.Error("failure notification failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	w.logger.Error("job failed permanently",
		zap.String("job_id", job.ID),
		zap.String("source_id", job.SourceID),
		zap.Int("attempts", job.Attempts),
		zap.String("error", errText))
}

func (w *Worker) publishCompletion(ctx context.Context, jobID string, source monitor.Source, outcome Outcome) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":      jobID,
		"source_id":   source.ID,
		"revision_id": outcome.Revision.ID,
		"blob_uri":    outcome.Revision.BlobURI,
		"hash":        outcome.Revision.ContentHash,
		"changed":     outcome.Diff != nil,
		"baseline":    outcome.Baseline,
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("completion publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
