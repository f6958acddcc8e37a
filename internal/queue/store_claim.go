package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ClaimNextPending leases the oldest claimable job to workerID and moves it to
// INFERENCING. A job is claimable when its lease is absent or older than
// leaseTimeout and any retry delay set by DeferRetry has passed. Selection and update happen in one statement so two workers
// can never lease the same job. It returns nil, nil when nothing is claimable.
func (s *Store) ClaimNextPending(ctx context.Context, workerID string, leaseTimeout time.Duration) (*ScanJob, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, validation("claim", "worker id is required")
	}
	if leaseTimeout <= 0 {
		return nil, validation("claim", "lease timeout must be positive")
	}

	now := s.now()
	stamp := formatTime(now)
	cutoff := formatTime(now.Add(-leaseTimeout))
	predicate := fmt.Sprintf("status IN (%s) AND (locked_at IS NULL OR locked_at < ?) AND (retry_after IS NULL OR retry_after <= ?)",
		makePlaceholders(len(claimableStatuses)))
	query := `UPDATE scan_jobs SET status = ?, processor_id = ?, locked_at = ?, retry_after = NULL, updated_at = ?
        WHERE id = (SELECT id FROM scan_jobs WHERE ` + predicate + ` ORDER BY created_at, seq LIMIT 1` + s.dialect.claimLock + `)
          AND ` + predicate + `
        RETURNING ` + jobColumns

	predicateArgs := append(statusArgs(claimableStatuses), cutoff, stamp)
	args := []any{string(StatusInferencing), workerID, stamp, stamp}
	args = append(args, predicateArgs...)
	args = append(args, predicateArgs...)

	var claimed *ScanJob
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		claimed = nil
		job, err := scanJob(tx.QueryRowContext(ctx, tx.Rebind(query), args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		detail := "claimed"
		if job.RetryCount > 0 {
			detail = fmt.Sprintf("claimed (retry %d)", job.RetryCount)
		}
		if err := s.recordEvent(ctx, tx, job.ID, StatusInferencing, workerID, detail); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next pending: %w", err)
	}
	return claimed, nil
}

// DeferRetry keeps the job out of ClaimNextPending until the given time. The
// lease and status are left alone.
func (s *Store) DeferRetry(ctx context.Context, id string, until time.Time) error {
	return s.updateFields(ctx, "defer retry", id, "retry_after = ?", formatTime(until))
}

// ReleaseJob clears the lease without touching status.
func (s *Store) ReleaseJob(ctx context.Context, id string) error {
	return s.updateFields(ctx, "release job", id, "processor_id = NULL, locked_at = NULL")
}

// ReleaseIfOwner clears the lease only while workerID still holds it. It
// reports false when the lease already passed to another worker.
func (s *Store) ReleaseIfOwner(ctx context.Context, id, workerID string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE scan_jobs SET processor_id = NULL, locked_at = NULL, updated_at = ? WHERE id = ? AND processor_id = ?`,
		formatTime(s.now()), id, workerID)
	if err != nil {
		return false, fmt.Errorf("release job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release job: rows affected: %w", err)
	}
	return rows > 0, nil
}
