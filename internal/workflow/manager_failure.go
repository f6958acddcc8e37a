package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cardmint/internal/events"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/services"
)

// handleStageFailure records stageErr on the job. Errors that another attempt
// cannot fix send the job to NEEDS_REVIEW; everything else counts against the
// retry budget and fails the job once the budget is spent.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, job *queue.ScanJob, workerID, stageName string, stageErr error) {
	if ctx.Err() != nil {
		logger.Debug("stage interrupted by shutdown", logging.String(logging.FieldStage, stageName))
		return
	}
	m.setLastError(stageErr)
	code := failureCode(stageName, stageErr)
	message := strings.TrimSpace(stageErr.Error())

	if needsReview(stageErr) {
		m.recordError(ctx, logger, job.ID, code, message)
		logging.WarnWithContext(logger, "job needs review", "job_needs_review",
			logging.String(logging.FieldStage, stageName),
			logging.String("error_code", code),
			logging.Error(stageErr),
			logging.String(logging.FieldErrorHint, "inspect the job and retry it with cardmint jobs retry"),
		)
		if err := m.store.UpdateStatus(ctx, job.ID, queue.StatusNeedsReview, nil); err != nil {
			logger.Error("failed to persist review status", logging.Error(err))
			return
		}
		m.publish(events.Event{
			Type:      events.TypeStatusChanged,
			JobID:     job.ID,
			Status:    string(queue.StatusNeedsReview),
			Actor:     workerID,
			Detail:    stageName + " rejected",
			ErrorCode: code,
		})
		return
	}

	retries, err := m.store.IncrementRetry(ctx, job.ID)
	if err != nil {
		logger.Error("failed to record retry", logging.Error(err))
		return
	}
	m.recordError(ctx, logger, job.ID, code, message)
	limit := m.cfg.Workflow.MaxRetries

	details := []logging.Attr{
		logging.String(logging.FieldStage, stageName),
		logging.String("error_code", code),
		logging.Int("retry_count", retries),
		logging.Int("retry_limit", limit),
		logging.Error(stageErr),
	}
	if retries < limit {
		delay := m.deferRetry(ctx, logger, job.ID, retries)
		logging.WarnWithContext(logger, "stage failed; job will be retried", "stage_retry",
			append(details,
				logging.Duration("retry_in", delay),
				logging.String(logging.FieldErrorHint, "check the "+stageName+" collaborator"))...)
		return
	}

	logging.ErrorWithContext(logger, "stage failed; retry limit reached", "stage_failure",
		append(details, logging.String(logging.FieldErrorHint, "fix the collaborator then run cardmint jobs retry"))...)
	if err := m.store.UpdateStatus(ctx, job.ID, queue.StatusFailed, nil); err != nil {
		logger.Error("failed to persist failed status", logging.Error(err))
		return
	}
	m.publish(events.Event{
		Type:      events.TypeJobFailed,
		JobID:     job.ID,
		Status:    string(queue.StatusFailed),
		Actor:     workerID,
		Detail:    message,
		ErrorCode: code,
	})
	m.notify(ctx, logger, "job failed", func(ctx context.Context) error {
		return m.notifier.NotifyJobFailed(ctx, job.ID, code, message)
	})
}

// maxRetryBackoffFactor caps the doubling of the base retry delay.
const maxRetryBackoffFactor = 16

// retryDelay doubles the base backoff for each recorded attempt.
func (m *Manager) retryDelay(attempt int) time.Duration {
	if m.retryBackoff <= 0 {
		return 0
	}
	factor := 1
	for i := 1; i < attempt && factor < maxRetryBackoffFactor; i++ {
		factor *= 2
	}
	return m.retryBackoff * time.Duration(factor)
}

// deferRetry keeps the job out of the claim query until its backoff passes.
func (m *Manager) deferRetry(ctx context.Context, logger *slog.Logger, jobID string, attempt int) time.Duration {
	delay := m.retryDelay(attempt)
	if delay <= 0 {
		return 0
	}
	if err := m.store.DeferRetry(ctx, jobID, m.clock().Add(delay)); err != nil {
		logger.Warn("failed to schedule retry", logging.Error(err))
		return 0
	}
	return delay
}

func needsReview(err error) bool {
	return errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound)
}

func failureCode(stageName string, err error) string {
	switch {
	case needsReview(err) && stageName == "classify":
		return ErrorCodeInvalidResult
	case stageName == "classify":
		return ErrorCodeClassifier
	default:
		return services.ErrorCode(err)
	}
}
