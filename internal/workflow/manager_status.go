package workflow

import (
	"context"

	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                    `json:"running"`
	Workers     []string                `json:"workers,omitempty"`
	Processed   int64                   `json:"processed"`
	LastError   string                  `json:"last_error,omitempty"`
	LastJob     *queue.ScanJob          `json:"-"`
	LastJobID   string                  `json:"last_job_id,omitempty"`
	QueueStats  map[queue.Status]int    `json:"queue_stats"`
	StageHealth map[string]stage.Health `json:"stage_health"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   append([]string(nil), m.workerIDs...),
		Processed: m.processed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
		summary.LastJobID = copy.ID
	}
	stages := m.stages
	m.mu.RUnlock()
	if !summary.Running {
		summary.Workers = nil
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats

	checkers := make([]stage.HealthChecker, 0, 2)
	if stages.Classifier != nil {
		checkers = append(checkers, stages.Classifier)
	}
	if stages.Pricing != nil {
		checkers = append(checkers, stages.Pricing)
	}
	summary.StageHealth = stage.CheckAll(ctx, checkers...)
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.ScanJob) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}

func (m *Manager) markProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}
