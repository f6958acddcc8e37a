package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"cardmint/internal/logging"
)

// AMQPConfig configures the AMQP sink.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	// RetryAttempts bounds connection attempts at startup.
	RetryAttempts int
	RetryInterval time.Duration
}

// AMQPSink publishes events to a durable topic exchange. The routing key is
// the configured prefix followed by the lowercased job status.
type AMQPSink struct {
	cfg     AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(cfg AMQPConfig, logger *slog.Logger) (*AMQPSink, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	sink := &AMQPSink{cfg: cfg, logger: logging.NewComponentLogger(logger, "events.amqp")}

	var err error
	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		sink.conn, err = amqp.DialConfig(cfg.URL, amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"})
		if err == nil {
			break
		}
		sink.logger.Warn("amqp connect failed",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", cfg.RetryAttempts),
			logging.Error(err),
		)
		if attempt < cfg.RetryAttempts {
			time.Sleep(cfg.RetryInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect amqp after %d attempts: %w", cfg.RetryAttempts, err)
	}

	sink.channel, err = sink.conn.Channel()
	if err != nil {
		_ = sink.conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = sink.channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = sink.channel.Close()
		_ = sink.conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	sink.logger.Info("amqp sink ready", logging.String("exchange", cfg.Exchange))
	return sink, nil
}

// RoutingKey returns the key evt is published under.
func RoutingKey(prefix string, evt Event) string {
	suffix := strings.ToLower(evt.Status)
	if suffix == "" {
		suffix = strings.ReplaceAll(string(evt.Type), ".", "_")
	}
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Send publishes evt as a persistent JSON message.
func (s *AMQPSink) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || s.channel.IsClosed() {
		return fmt.Errorf("amqp channel closed")
	}
	err = s.channel.PublishWithContext(
		ctx,
		s.cfg.Exchange,
		RoutingKey(s.cfg.RoutingKey, evt),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    evt.Timestamp,
			MessageId:    evt.JobID,
			Type:         string(evt.Type),
		},
	)
	if err != nil {
		return fmt.Errorf("publish amqp event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Debug("amqp channel close failed", logging.Error(err))
		}
		s.channel = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
