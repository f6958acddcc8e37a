package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cardmint/internal/logging"
)

// Type classifies an Event.
type Type string

const (
	TypeJobCreated    Type = "job.created"
	TypeStatusChanged Type = "job.status_changed"
	TypeGateChanged   Type = "job.gate_changed"
	TypeJobFailed     Type = "job.failed"
	TypeRecovery      Type = "recovery.completed"
	TypeQueueCleared  Type = "queue.cleared"
)

const defaultSubscribeCap = 16

// Event describes one committed change.
type Event struct {
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts events. Bus implements it.
type Publisher interface {
	Publish(evt Event)
}

// Bus delivers events to explicit subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logging.NewComponentLogger(logger, "events"),
	}
}

// Subscribe registers a subscriber with the given buffer and returns its
// channel with a cancel func. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscribeCap
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers evt to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("event dropped for slow subscriber",
				logging.String("type", string(evt.Type)),
				logging.String(logging.FieldJobID, evt.JobID),
			)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Sink is an external destination for events.
type Sink interface {
	Send(ctx context.Context, evt Event) error
	Close() error
}

// Forward subscribes sink to the bus and delivers events until ctx ends or
// the bus closes. Send failures are logged and skipped.
func Forward(ctx context.Context, bus *Bus, sink Sink, name string, buffer int, logger *slog.Logger) {
	logger = logging.NewComponentLogger(logger, "events."+name)
	ch, cancel := bus.Subscribe(buffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := sink.Send(ctx, evt); err != nil {
				logging.WarnWithContext(logger, "event sink send failed", "events_sink_failed",
					logging.String("sink", name),
					logging.String("type", string(evt.Type)),
					logging.String(logging.FieldJobID, evt.JobID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the broker connection; events are not retried"),
				)
			}
		}
	}
}
