// Package notifications delivers operator-facing job alerts via ntfy.
//
// The default implementation publishes to the ntfy topic configured in
// config.toml and degrades to a no-op when no topic is set. Repeated alerts
// for the same job and kind are suppressed by a bounded dedup cache so a job
// bouncing between retries does not flood the operator's phone.
package notifications
