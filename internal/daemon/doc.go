// Package daemon coordinates the long-running CardMint intake process.
//
// It wires configuration, the job store, the worker pool, the intake inbox,
// event sinks, and the HTTP API into a single lifecycle with flock-based
// locking to prevent multiple instances. Startup recovery runs here exactly
// once, before any worker claims a job.
//
// Keep orchestration logic here: individual processing steps live in the
// workflow and stage packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
