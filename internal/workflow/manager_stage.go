package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cardmint/internal/events"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/services"
	"cardmint/internal/stage"
)

const releaseTimeout = 5 * time.Second

type pricingOutcome int

const (
	pricingDone pricingOutcome = iota
	pricingRetry
	pricingSkipped
)

// processJob drives one claimed job until it waits on an operator, fails, or
// is handed back for another claim cycle. The lease is always released.
func (m *Manager) processJob(ctx context.Context, workerID string, job *queue.ScanJob) {
	start := m.clock()
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.Int("retry_count", job.RetryCount),
		logging.String("front_image", job.FrontImagePath()),
	)
	m.publish(events.Event{
		Type:   events.TypeStatusChanged,
		JobID:  job.ID,
		Status: string(queue.StatusInferencing),
		Actor:  workerID,
		Detail: "claimed",
	})
	defer m.release(ctx, logger, job.ID, workerID)
	defer m.setLastJob(job)

	stages := m.stageSet()
	if stages.Classifier == nil {
		m.handleStageFailure(ctx, logger, job, workerID, "classify",
			services.Wrap(services.ErrConfiguration, "workflow", "classify", "classifier not configured", nil))
		return
	}

	classifyStart := m.clock()
	result, err := stages.Classifier.Classify(services.WithStage(ctx, "classify"), job)
	if err != nil {
		m.handleStageFailure(ctx, logger, job, workerID, "classify", err)
		return
	}
	timings := queue.Timings{timingClassify: m.clock().Sub(classifyStart).Milliseconds()}
	if err := m.store.UpdateExtraction(ctx, job.ID, result.Extraction()); err != nil {
		m.handleStageFailure(ctx, logger, job, workerID, "persist extraction", err)
		return
	}

	threshold := m.cfg.Workflow.UnmatchedThreshold
	if !stage.IsReasonableMatch(result.Top3, threshold) {
		m.finish(ctx, logger, job, workerID, start, queue.StatusUnmatched, timings, true, "no reasonable candidate")
		m.notify(ctx, logger, "unmatched", func(ctx context.Context) error {
			return m.notifier.NotifyUnmatched(ctx, job.ID)
		})
		return
	}

	best, _ := stage.BestCandidate(result.Top3)
	next := queue.StatusOperatorPending
	detail := "best " + best.Name
	clearError := true
	if stages.Pricing != nil {
		quote, outcome := m.price(ctx, logger, stages.Pricing, job, best, timings)
		switch outcome {
		case pricingRetry:
			return
		case pricingSkipped:
			next = queue.StatusCandidatesReady
			detail += ", unpriced"
			clearError = false
		default:
			detail += fmt.Sprintf(", %d %s", quote.AmountCents, quote.Currency)
		}
	}

	if !m.finish(ctx, logger, job, workerID, start, next, timings, clearError, detail) {
		return
	}
	if next == queue.StatusOperatorPending {
		m.notify(ctx, logger, "operator pending", func(ctx context.Context) error {
			return m.notifier.NotifyOperatorPending(ctx, job.ID, best.Name)
		})
	}
}

// price looks up the best candidate. Failures count against the job's
// pricing budget; once the budget is spent pricing is skipped.
func (m *Manager) price(ctx context.Context, logger *slog.Logger, pricer stage.PriceLookup, job *queue.ScanJob, best queue.Candidate, timings queue.Timings) (stage.PriceQuote, pricingOutcome) {
	limit := m.cfg.Workflow.MaxPptFailures
	if job.PptFailureCount >= limit {
		logger.Info("pricing skipped after repeated failures",
			logging.Int("ppt_failure_count", job.PptFailureCount),
			logging.String(logging.FieldEventType, "pricing_skipped"),
		)
		m.recordError(ctx, logger, job.ID, ErrorCodePricingSkip, fmt.Sprintf("pricing skipped after %d failures", job.PptFailureCount))
		return stage.PriceQuote{}, pricingSkipped
	}

	lookupStart := m.clock()
	quote, err := pricer.Lookup(services.WithStage(ctx, "pricing"), best)
	if err == nil {
		timings[timingPricing] = m.clock().Sub(lookupStart).Milliseconds()
		return quote, pricingDone
	}
	if ctx.Err() != nil {
		return stage.PriceQuote{}, pricingRetry
	}

	count, incErr := m.store.IncrementPptFailureCount(ctx, job.ID)
	if incErr != nil {
		logger.Warn("failed to record pricing failure", logging.Error(incErr))
		count = job.PptFailureCount + 1
	}
	m.recordError(ctx, logger, job.ID, ErrorCodePricing, err.Error())
	logging.WarnWithContext(logger, "pricing lookup failed", "pricing_failed",
		logging.Error(err),
		logging.Int("ppt_failure_count", count),
		logging.Int("ppt_failure_limit", limit),
		logging.String(logging.FieldErrorHint, "check classifier.pricing_url"),
	)
	if count >= limit {
		return stage.PriceQuote{}, pricingSkipped
	}
	m.deferRetry(ctx, logger, job.ID, count)
	return stage.PriceQuote{}, pricingRetry
}

// finish writes the final status of this claim cycle. It reports whether the
// write committed.
func (m *Manager) finish(ctx context.Context, logger *slog.Logger, job *queue.ScanJob, workerID string, start time.Time, status queue.Status, timings queue.Timings, clearError bool, detail string) bool {
	timings[timingWorker] = m.clock().Sub(start).Milliseconds()
	if err := m.store.UpdateStatus(ctx, job.ID, status, timings); err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to persist job result", "job_persist_failed",
			logging.String(logging.FieldStatus, string(status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "job may have been cleared while in flight"),
		)
		return false
	}
	if clearError && (job.ErrorCode != "" || job.ErrorMessage != "") {
		if err := m.store.ClearError(ctx, job.ID); err != nil {
			logger.Warn("failed to clear job error", logging.Error(err))
		}
	}
	m.markProcessed()
	logger.Info("job advanced",
		logging.String(logging.FieldStatus, string(status)),
		logging.String("detail", detail),
		logging.Int64("timings_"+timingWorker, timings[timingWorker]),
		logging.String(logging.FieldEventType, "job_advanced"),
	)
	m.publish(events.Event{
		Type:   events.TypeStatusChanged,
		JobID:  job.ID,
		Status: string(status),
		Actor:  workerID,
		Detail: detail,
	})
	return true
}

func (m *Manager) release(ctx context.Context, logger *slog.Logger, id, workerID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	released, err := m.store.ReleaseIfOwner(releaseCtx, id, workerID)
	if err != nil {
		logging.WarnWithContext(logger, "failed to release lease", "lease_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "lease expires after workflow.lease_timeout"),
		)
		return
	}
	if !released {
		logger.Warn("lease lost before release",
			logging.String(logging.FieldEventType, "lease_lost"),
			logging.String(logging.FieldErrorHint, "raise workflow.lease_timeout if jobs run longer than the lease"),
		)
	}
}

func (m *Manager) recordError(ctx context.Context, logger *slog.Logger, id, code, message string) {
	if err := m.store.UpdateError(ctx, id, code, message); err != nil {
		logger.Warn("failed to record job error", logging.String("error_code", code), logging.Error(err))
	}
}
