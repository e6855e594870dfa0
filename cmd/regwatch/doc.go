// Package main hosts the source monitoring service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, manual scrape
//     triggers, job and revision lookups, verification submission, and dead
//     letter inspection.
//   - Scheduler: a ticker finds due sources and dispatches one PENDING job
//     per source onto the queue. Replicas coordinate through a Redis lock so
//     only one dispatches per tick; the lock's TTL frees it after a crash.
//   - Worker pool: a bounded in-memory queue feeds a fixed worker pool sized
//     by worker.concurrency. Each job runs the content pipeline with
//     exponential backoff retries; exhausted jobs land in the Redis dead
//     letter list and members are notified of the failure.
//   - Content pipeline: per-origin politeness wait, plain or headless fetch,
//     raw HTML archived to the blob store, boilerplate-stripped text hashed
//     to gate the AI stages, extraction and semantic comparison through the
//     OpenAI client, suppression rules applied to field-level changes.
//   - Persistence & fanout: sources, jobs, revisions, diffs, rules,
//     verifications and notifications live in Postgres (in-memory fallback
//     for local runs). Completion events go to Pub/Sub when configured, and
//     per-recipient notifications are recorded idempotently before delivery.
//   - Configuration & plumbing: Viper populates config from env/files with
//     the REGWATCH_ prefix; zap provides structured logging; Prometheus
//     metrics are exported via middleware and the /metrics handler.
//
// Run locally: go run ./cmd/regwatch -config config.yaml (or rely solely on
// env overrides). The process reacts to SIGTERM for graceful drain.
package main
