// Package scheduler provides the in-process timer facility the bot's two jobs
// run on.
//
// # Overview
//
// Jobs are registered under a logical name (e.g. "janitor:sweep"). Names are
// stable and human readable so that tasks can be replaced (upserted) and
// removed deterministically: re-registering a recurring job under the same
// name replaces the old schedule rather than duplicating it, which makes
// registration idempotent across config reloads.
//
// # Job kinds
//
//   - AddInterval: a fixed-interval recurring job (robfig/cron "@every").
//   - AddOnce: a one-shot job at an absolute time. One-shots upsert by name
//     too; callers wanting several independent one-shots in flight use
//     distinct names.
//
// # Concurrency
//
// Jobs run on a small worker pool fed by a bounded queue. A recurring job's
// run is skipped while its previous run is still executing. A per-job timeout
// bounds each run. There is no retry machinery: every job here is re-triggered
// by its own schedule, so the next tick naturally retries failed work.
//
// # Lifecycle
//
// The Service is started once at process startup. Registering jobs before
// Start is supported: definitions are stored and applied on Start.
package scheduler
