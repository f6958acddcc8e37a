package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"cardmint/internal/events"
	"cardmint/internal/logging"
)

const sinkConnectTimeout = 10 * time.Second

// startSinks connects the configured brokers and forwards bus events to them.
// A broker that cannot be reached is logged and skipped; local processing
// never depends on it.
func (d *Daemon) startSinks(ctx context.Context) {
	buffer := d.cfg.Events.BufferSize
	evCfg := d.cfg.Events

	if url := strings.TrimSpace(evCfg.RedisURL); url != "" {
		connectCtx, cancel := context.WithTimeout(ctx, sinkConnectTimeout)
		client, err := events.NewRedisClient(connectCtx, url)
		cancel()
		if err != nil {
			d.warnSink("redis", err)
		} else {
			d.closers = append(d.closers, client.Close)
			if channel := strings.TrimSpace(evCfg.RedisChannel); channel != "" {
				d.forward(ctx, events.NewRedisSink(client, channel), "redis", buffer)
			}
			if channel := strings.TrimSpace(evCfg.WakeChannel); channel != "" {
				d.wg.Add(1)
				go func() {
					defer d.wg.Done()
					err := events.ListenWake(ctx, client, channel, d.workflow.Wake)
					if err != nil && !errors.Is(err, context.Canceled) {
						d.warnSink("redis-wake", err)
					}
				}()
			}
		}
	}

	if url := strings.TrimSpace(evCfg.AMQPURL); url != "" {
		sink, err := events.NewAMQPSink(events.AMQPConfig{
			URL:        url,
			Exchange:   evCfg.AMQPExchange,
			RoutingKey: evCfg.AMQPRoutingKey,
		}, d.logger)
		if err != nil {
			d.warnSink("amqp", err)
		} else {
			d.forward(ctx, sink, "amqp", buffer)
		}
	}
}

func (d *Daemon) forward(ctx context.Context, sink events.Sink, name string, buffer int) {
	d.mu.Lock()
	d.sinks = append(d.sinks, namedSink{Sink: sink, name: name})
	d.mu.Unlock()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		events.Forward(ctx, d.bus, sink, name, buffer, d.logger)
	}()
}

func (d *Daemon) warnSink(name string, err error) {
	logging.WarnWithContext(d.logger, "event sink unavailable", "events_sink_unavailable",
		logging.String("sink", name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the events section of the config; processing continues without this sink"),
	)
}

// shutdownSinks closes sinks before the clients they share.
func (d *Daemon) shutdownSinks() {
	d.mu.Lock()
	sinks := d.sinks
	closers := d.closers
	d.sinks = nil
	d.closers = nil
	d.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			d.logger.Debug("event sink close failed", logging.String("sink", sinkName(sink)), logging.Error(err))
		}
	}
	for _, closeFn := range closers {
		_ = closeFn()
	}
}

type namedSink struct {
	events.Sink
	name string
}

func sinkName(sink events.Sink) string {
	if named, ok := sink.(namedSink); ok {
		return named.name
	}
	return "sink"
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
