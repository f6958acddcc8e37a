package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient connects to the Redis server at url and verifies it responds.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisSink publishes events as JSON on a Redis channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink wraps client. The sink does not own the client.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Send publishes evt.
func (s *RedisSink) Send(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// Close is a no-op; the caller closes the shared client.
func (s *RedisSink) Close() error { return nil }

// PublishWake asks every worker pool listening on channel to poll now.
func PublishWake(ctx context.Context, client *redis.Client, channel, reason string) error {
	return client.Publish(ctx, channel, reason).Err()
}

// ListenWake subscribes to channel and calls wake for each message until ctx
// ends. It returns ctx.Err() on cancellation.
func ListenWake(ctx context.Context, client *redis.Client, channel string, wake func()) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Receive confirms the subscription before messages are expected.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			wake()
		}
	}
}
