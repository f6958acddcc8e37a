package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/intake"
	"cardmint/internal/logging"
	"cardmint/internal/notifications"
	"cardmint/internal/queue"
	"cardmint/internal/workflow"
)

const minIntakeInterval = 500 * time.Millisecond

// Daemon coordinates background processing and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	bus      *events.Bus
	notifier notifications.Service
	inbox    *intake.DirSource

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	api      *apiServer
	sinks    []events.Sink
	closers  []func() error
	mu       sync.Mutex
	recovery queue.RecoveryReport
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	Recovery     queue.RecoveryReport
	StoreDriver  string
	LockFilePath string
	APIAddress   string
	Sinks        []string
	DroppedEvent int64
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithBus shares an event bus with the workflow manager.
func WithBus(bus *events.Bus) Option {
	return func(d *Daemon) {
		if bus != nil {
			d.bus = bus
		}
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		inbox:    intake.NewDirSource(cfg.Paths.IntakeDir, logger, intake.WithCaptureDir(cfg.CaptureDir())),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.bus == nil {
		d.bus = events.NewBus(logger)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	return d, nil
}

// Start acquires the daemon lock, runs startup recovery, and launches the
// worker pool, intake polling, event sinks, and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cardmint daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.recover(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.startSinks(runCtx)

	if err := d.workflow.Start(runCtx); err != nil {
		d.abortStart(cancel)
		return fmt.Errorf("start workflow: %w", err)
	}

	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err == nil {
		err = srv.start(runCtx)
	}
	if err != nil {
		d.workflow.Stop()
		d.abortStart(cancel)
		return err
	}

	d.mu.Lock()
	d.api = srv
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollIntake(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("cardmint daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Driver()),
		logging.String("intake_dir", d.inbox.Dir()),
	)
	return nil
}

func (d *Daemon) abortStart(cancel context.CancelFunc) {
	cancel()
	d.wg.Wait()
	d.shutdownSinks()
	_ = d.lock.Unlock()
}

// recover runs the configured recovery policy once and reports the outcome.
func (d *Daemon) recover(ctx context.Context) error {
	policy, err := queue.ParseRecoveryPolicy(d.cfg.Recovery.Policy)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	var opts queue.RecoveryOptions
	if !d.cfg.Recovery.KeepIntake {
		opts.Intake = d.inbox
	}
	report, err := d.store.Recover(ctx, policy, opts)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	d.mu.Lock()
	d.recovery = report
	d.mu.Unlock()

	d.logger.Info("startup recovery complete",
		logging.String("policy", string(report.Policy)),
		logging.Int64("requeued", report.Requeued),
		logging.Int64("leases_cleared", report.LeasesCleared),
		logging.Int64("deleted", report.Deleted),
		logging.Int64("sessions_terminated", report.SessionsTerminated),
		logging.Int("artifacts_removed", report.ArtifactsRemoved),
		logging.String(logging.FieldEventType, "startup_recovery"),
	)
	if !report.Changed() {
		return nil
	}
	d.bus.Publish(events.Event{
		Type:   events.TypeRecovery,
		Actor:  "recovery",
		Detail: fmt.Sprintf("%s: requeued %d, deleted %d", report.Policy, report.Requeued, report.Deleted),
	})
	if err := d.notifier.NotifyRecovery(ctx, string(report.Policy), report.Requeued, report.Deleted); err != nil {
		d.logger.Warn("recovery notification failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check ntfy topic and network connectivity"),
		)
	}
	return nil
}

// pollIntake turns new inbox images into CAPTURED jobs and wakes workers.
func (d *Daemon) pollIntake(ctx context.Context) {
	if strings.TrimSpace(d.inbox.Dir()) == "" {
		return
	}
	interval := d.cfg.PollInterval()
	if interval < minIntakeInterval {
		interval = minIntakeInterval
	}
	for {
		created, err := d.inbox.Ingest(ctx, d.store, "")
		if err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "intake scan failed", "intake_failed",
				logging.String("intake_dir", d.inbox.Dir()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check intake directory permissions"),
			)
		}
		if len(created) > 0 {
			for _, job := range created {
				d.bus.Publish(events.Event{
					Type:   events.TypeJobCreated,
					JobID:  job.ID,
					Status: string(job.Status),
					Actor:  "intake",
				})
			}
			d.workflow.Wake()
		}
		if !sleepContext(ctx, interval) {
			return
		}
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	srv := d.api
	d.cancel = nil
	d.api = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	srv.stop()
	d.workflow.Stop()
	d.wg.Wait()
	d.shutdownSinks()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("cardmint daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.bus.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Bus exposes the event bus for in-process subscribers.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary := d.workflow.Status(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{
		Running:      d.running.Load(),
		Workflow:     summary,
		Recovery:     d.recovery,
		StoreDriver:  d.store.Driver(),
		LockFilePath: d.lockPath,
		DroppedEvent: d.bus.Dropped(),
	}
	if d.api != nil {
		status.APIAddress = d.api.address()
	}
	for _, sink := range d.sinks {
		status.Sinks = append(status.Sinks, sinkName(sink))
	}
	return status
}
