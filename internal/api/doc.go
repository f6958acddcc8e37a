// Package api exposes the intake core over HTTP.
//
// The gin engine built by NewServer serves three groups of routes:
//
// Admission: POST /api/jobs creates a scan job. Requests are rate limited per
// client and rejected with 429 once queue depth reaches
// admission.max_queue_depth. Accepted jobs wake the worker pool.
//
// Queries: job lookup, listing, history, queue depth and stats.
//
// Operator: the human gates (lock-front, back-ready, lock-canonical), the
// two accept transitions, retry and lease release.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds.
// Store errors map onto status codes through their services markers: not
// found 404, invalid transition and duplicates 409, validation 400, write
// verification 500. Every committed change is published to the configured
// events.Publisher.
package api
