// Package services defines shared utilities consumed by the queue, the worker
// pool, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, worker IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is (not found, invalid transition, transient
//     dependency, write verification).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
