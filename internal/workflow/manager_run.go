package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"cardmint/internal/logging"
	"cardmint/internal/services"
)

const minPollInterval = 50 * time.Millisecond

// Start launches the worker pool and returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stages.Classifier == nil {
		m.mu.Unlock()
		return errors.New("workflow classifier not configured")
	}
	count := m.cfg.Workflow.WorkerCount
	if count <= 0 {
		count = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	ids := make([]string, count)
	for i := range ids {
		ids[i] = m.newWorkerID(i + 1)
	}
	m.cancel = cancel
	m.group = group
	m.workerIDs = ids
	m.running = true
	m.mu.Unlock()

	for _, id := range ids {
		group.Go(func() error {
			return m.runWorker(groupCtx, id)
		})
	}
	m.logger.Info("workflow started",
		logging.Int("workers", count),
		logging.Duration("lease_timeout", m.leaseTimeout),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	return nil
}

// Stop terminates the worker pool and waits for in-flight jobs to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	group := m.group
	m.running = false
	m.cancel = nil
	m.group = nil
	m.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("workflow stopped with error", logging.Error(err))
	}
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

// Wake asks one idle worker to claim immediately instead of waiting for the
// next poll.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ProcessNext claims and processes at most one job as workerID. It reports
// whether a job was claimed.
func (m *Manager) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := m.store.ClaimNextPending(ctx, workerID, m.leaseTimeout)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	m.processJob(services.WithWorkerID(ctx, workerID), workerID, job)
	return true, nil
}

func (m *Manager) runWorker(ctx context.Context, workerID string) error {
	logger := m.logger.With(logging.String(logging.FieldWorkerID, workerID))
	logger.Debug("worker started")
	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopped")
			return nil
		}
		claimed, err := m.ProcessNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if !claimed {
			m.waitForWork(ctx)
		}
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim next job", "queue_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check job store access"),
	)
	m.sleep(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
}

func (m *Manager) waitForWork(ctx context.Context) {
	interval := m.pollInterval
	if interval < minPollInterval {
		interval = minPollInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-timer.C:
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
