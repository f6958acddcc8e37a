// Package workflow runs the worker pool that drives scan jobs through
// classification and pricing.
//
// The Manager starts workflow.worker_count workers in an errgroup. Each worker
// claims the oldest claimable job with a lease, classifies its front image,
// looks up a price for the best candidate, and leaves the job waiting for an
// operator. Workers poll on queue_poll_interval and wake early when Wake is
// called by the admission API or a Redis wake subscription.
//
// Collaborator failures are recorded on the job as data. Retryable failures
// bump retry_count and release the lease so another claim cycle picks the job
// up again; once workflow.max_retries is reached the job is FAILED. Pricing
// failures use their own counter and are skipped entirely after
// workflow.max_ppt_failures.
//
// Every committed transition is published to the events.Publisher handed to
// the Manager, and operator-facing outcomes go to the notifications.Service.
package workflow
