package workflow

import (
	"context"
	"errors"
	"log/slog"

	"cardmint/internal/events"
	"cardmint/internal/logging"
)

func (m *Manager) publish(evt events.Event) {
	if m.publisher == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.clock().UTC()
	}
	m.publisher.Publish(evt)
}

func (m *Manager) notify(ctx context.Context, logger *slog.Logger, label string, send func(context.Context) error) {
	if m.notifier == nil {
		return
	}
	if err := send(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification skipped", logging.String("notification", label))
			return
		}
		logger.Debug("notification failed", logging.String("notification", label), logging.Error(err))
	}
}
