// Package queue persists scan jobs and exposes the operations that drive their
// lifecycle.
//
// The Store manages database connections for SQLite and PostgreSQL, schema
// initialization, the atomic lease-based claim, the stage state machine with
// its guarded operator transitions, the startup recovery routine, and the
// queue depth used for admission control. Every status-changing write appends
// a row to the job_events history in the same transaction.
//
// Treat this package as the single source of truth for job semantics; when you
// add statuses or columns, update both schema files and bump schemaVersion.
package queue
