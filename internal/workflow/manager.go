package workflow

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/logging"
	"cardmint/internal/notifications"
	"cardmint/internal/queue"
)

// Manager coordinates the worker pool.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	notifier     notifications.Service
	publisher    events.Publisher
	pollInterval time.Duration
	leaseTimeout time.Duration
	retryBackoff time.Duration
	workerPrefix string
	clock        func() time.Time

	stages StageSet
	wake   chan struct{}

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	workerIDs []string
	lastErr   error
	lastJob   *queue.ScanJob
	processed int64
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier overrides the notification service built from config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithPublisher sets where committed transitions are published.
func WithPublisher(publisher events.Publisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// WithWorkerPrefix sets the prefix of generated worker ids.
func WithWorkerPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			m.workerPrefix = prefix
		}
	}
}

// WithRetryBackoff overrides the base delay before a failed job is claimable
// again.
func WithRetryBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.retryBackoff = d
		}
	}
}

// WithClock overrides the time source used for timings.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		pollInterval: cfg.PollInterval(),
		leaseTimeout: cfg.LeaseTimeout(),
		retryBackoff: cfg.RetryBackoff(),
		workerPrefix: defaultWorkerPrefix(),
		clock:        time.Now,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}
	return m
}

// ConfigureStages registers the collaborators the workers will call.
func (m *Manager) ConfigureStages(set StageSet) {
	m.mu.Lock()
	m.stages = set
	m.mu.Unlock()
}

func (m *Manager) stageSet() StageSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stages
}

func (m *Manager) newWorkerID(index int) string {
	return m.workerPrefix + "-" + strings.Split(uuid.NewString(), "-")[0] + "-" + strconv.Itoa(index)
}

func defaultWorkerPrefix() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "worker"
	}
	return host
}
