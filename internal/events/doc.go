// Package events fans job status changes out to in-process subscribers and,
// when configured, to Redis pub/sub and an AMQP exchange.
//
// Publishers call Bus.Publish after a transition commits. Publish never
// blocks: a subscriber whose buffer is full misses the event and the drop is
// counted. Sinks consume a subscription through Forward so a slow broker
// cannot stall the worker pool.
package events
