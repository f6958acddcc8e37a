package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"
)

// withJobTx loads the job inside a transaction, holding a row lock on
// PostgreSQL and the database write lock on SQLite, and passes it to fn.
func (s *Store) withJobTx(ctx context.Context, operation, id string, fn func(tx *sqlx.Tx, job *ScanJob) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowContext(ctx, tx.Rebind(`SELECT `+jobColumns+` FROM scan_jobs WHERE id = ?`+s.dialect.rowLock), id)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(operation, id)
		}
		if err != nil {
			return fmt.Errorf("%s: load job: %w", operation, err)
		}
		return fn(tx, job)
	})
}

func (s *Store) execJob(ctx context.Context, tx *sqlx.Tx, operation, id, assignments string, args ...any) error {
	args = append(args, formatTime(s.now()), id)
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE scan_jobs SET `+assignments+`, updated_at = ? WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", operation, err)
	}
	if rows == 0 {
		return noRowsAffected(operation, id)
	}
	return nil
}

func (s *Store) timingsAssignment(delta Timings) (string, []any, error) {
	if len(delta) == 0 {
		return "", nil, nil
	}
	encoded, err := encodeJSON(delta)
	if err != nil {
		return "", nil, fmt.Errorf("encode timings: %w", err)
	}
	return ", timings_json = " + s.dialect.mergeTimings, []any{encoded}, nil
}

// UpdateStatus writes status unconditionally and merges timingsDelta. The
// lease is left untouched. ACCEPTED is only reachable through
// AcceptWithTruthCoreAndInventory or AcceptForBaselineOnly.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, timingsDelta Timings) error {
	if _, ok := statusSet[status]; !ok {
		return validation("update status", fmt.Sprintf("unknown status %q", status))
	}
	if status == StatusAccepted {
		return invalidTransition("update status", id, "use an accept transition to record the truth core")
	}
	timingsSQL, timingsArgs, err := s.timingsAssignment(timingsDelta)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		args := append([]any{string(status)}, timingsArgs...)
		args = append(args, formatTime(s.now()), id)
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE scan_jobs SET status = ?`+timingsSQL+`, updated_at = ? WHERE id = ?`), args...)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update status: rows affected: %w", err)
		}
		if rows == 0 {
			return notFound("update status", id)
		}
		return s.recordEvent(ctx, tx, id, status, actorFromContext(ctx), "")
	})
}

// LockFront marks the front image as operator-confirmed. The job must wait on
// an operator and have a front image. Locking an already locked job is a no-op.
func (s *Store) LockFront(ctx context.Context, id string) error {
	const op = "lock front"
	return s.withJobTx(ctx, op, id, func(tx *sqlx.Tx, job *ScanJob) error {
		if !slices.Contains(operatorStatuses, job.Status) {
			return invalidTransition(op, id, fmt.Sprintf("status %s does not accept operator input", job.Status))
		}
		if job.FrontImagePath() == "" {
			return invalidTransition(op, id, "no front image available")
		}
		if job.FrontLocked {
			return nil
		}
		if err := s.execJob(ctx, tx, op, id, "front_locked = TRUE"); err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, id, job.Status, actorFromContext(ctx), "front locked")
	})
}

// MarkBackReady records that the back capture may proceed. The front must be locked.
func (s *Store) MarkBackReady(ctx context.Context, id string) error {
	const op = "mark back ready"
	return s.withJobTx(ctx, op, id, func(tx *sqlx.Tx, job *ScanJob) error {
		if !job.FrontLocked {
			return invalidTransition(op, id, "front is not locked")
		}
		if job.BackReady {
			return nil
		}
		if err := s.execJob(ctx, tx, op, id, "back_ready = TRUE"); err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, id, job.Status, actorFromContext(ctx), "back ready")
	})
}

// LockCanonical locks the canonical identity. It never blocks on a missing or
// placeholder card id; such jobs are marked for later reconciliation instead.
func (s *Store) LockCanonical(ctx context.Context, id string) error {
	const op = "lock canonical"
	return s.withJobTx(ctx, op, id, func(tx *sqlx.Tx, job *ScanJob) error {
		reconciliation := reconciliationFor(job.CMCardID)
		if job.CanonicalLocked && job.ReconciliationStatus == reconciliation {
			return nil
		}
		if err := s.execJob(ctx, tx, op, id, "canonical_locked = TRUE, reconciliation_status = ?", reconciliation); err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, id, job.Status, actorFromContext(ctx), "canonical locked ("+reconciliation+")")
	})
}

func truthCoreArgs(truth TruthCore) ([]any, error) {
	var tags any
	if len(truth.VariantTags) > 0 {
		encoded, err := encodeJSON(truth.VariantTags)
		if err != nil {
			return nil, fmt.Errorf("encode variant tags: %w", err)
		}
		tags = encoded
	}
	return []any{
		truth.Name,
		nullableInt(truth.HP),
		nullableString(truth.CollectorNo),
		nullableString(truth.SetName),
		nullableInt(truth.SetSize),
		tags,
	}, nil
}

const truthCoreAssignments = "accepted_name = ?, accepted_hp = ?, accepted_collector_no = ?, accepted_set_name = ?, accepted_set_size = ?, accepted_variant_tags = ?"

// SnapshotTruthCore stores operator-confirmed fields ahead of acceptance
// without changing status.
func (s *Store) SnapshotTruthCore(ctx context.Context, id string, truth TruthCore) error {
	truth = truth.Normalize()
	if err := truth.Validate(); err != nil {
		return err
	}
	args, err := truthCoreArgs(truth)
	if err != nil {
		return err
	}
	return s.updateFields(ctx, "snapshot truth core", id, truthCoreAssignments, args...)
}

// AcceptWithTruthCoreAndInventory is the single commit point for an accepted
// card: status, truth core, inventory reference, timings, and history are
// written in one transaction or not at all.
func (s *Store) AcceptWithTruthCoreAndInventory(ctx context.Context, id string, truth TruthCore, inventory InventoryResult, timingsDelta Timings) error {
	const op = "accept"
	truth = truth.Normalize()
	if err := truth.Validate(); err != nil {
		return err
	}
	itemUID := strings.TrimSpace(inventory.ItemUID)
	if itemUID == "" {
		return validation(op, "inventory item uid is required")
	}
	cmCardID := strings.TrimSpace(inventory.CMCardID)
	return s.accept(ctx, op, id, truth, itemUID, cmCardID, timingsDelta)
}

// AcceptForBaselineOnly accepts a job for baseline collection without linking
// it to inventory.
func (s *Store) AcceptForBaselineOnly(ctx context.Context, id string, truth TruthCore) error {
	truth = truth.Normalize()
	if err := truth.Validate(); err != nil {
		return err
	}
	return s.accept(ctx, "accept baseline", id, truth, "", "", nil)
}

func (s *Store) accept(ctx context.Context, op, id string, truth TruthCore, itemUID, cmCardID string, timingsDelta Timings) error {
	truthArgs, err := truthCoreArgs(truth)
	if err != nil {
		return err
	}
	timingsSQL, timingsArgs, err := s.timingsAssignment(timingsDelta)
	if err != nil {
		return err
	}
	return s.withJobTx(ctx, op, id, func(tx *sqlx.Tx, job *ScanJob) error {
		if job.Status == StatusAccepted && job.ItemUID != "" && job.ItemUID != itemUID {
			return invalidTransition(op, id, fmt.Sprintf("already accepted as item %s", job.ItemUID))
		}
		assignments := "status = ?, " + truthCoreAssignments + ", item_uid = ?"
		args := append([]any{string(StatusAccepted)}, truthArgs...)
		args = append(args, nullableString(itemUID))
		if cmCardID != "" {
			assignments += ", cm_card_id = ?, reconciliation_status = ?"
			args = append(args, cmCardID, reconciliationFor(cmCardID))
		}
		assignments += timingsSQL
		args = append(args, timingsArgs...)
		if err := s.execJob(ctx, tx, op, id, assignments, args...); err != nil {
			return err
		}
		detail := "baseline"
		if itemUID != "" {
			detail = "item " + itemUID
		}
		return s.recordEvent(ctx, tx, id, StatusAccepted, actorFromContext(ctx), detail)
	})
}

var resettableStatuses = []Status{StatusFailed, StatusNeedsReview, StatusUnmatched}

// ResetForRetry returns a failed or parked job to the claimable pool with its
// counters and error cleared. It is the only path that resets retry_count.
func (s *Store) ResetForRetry(ctx context.Context, id string) (Status, error) {
	const op = "reset for retry"
	var target Status
	err := s.withJobTx(ctx, op, id, func(tx *sqlx.Tx, job *ScanJob) error {
		if !slices.Contains(resettableStatuses, job.Status) {
			return invalidTransition(op, id, fmt.Sprintf("status %s cannot be retried", job.Status))
		}
		target = requeueTarget(job)
		if err := s.execJob(ctx, tx, op, id,
			"status = ?, retry_count = 0, ppt_failure_count = 0, error_code = NULL, error_message = NULL, processor_id = NULL, locked_at = NULL, retry_after = NULL",
			string(target)); err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, id, target, actorFromContext(ctx), "reset for retry")
	})
	return target, err
}

func requeueTarget(job *ScanJob) Status {
	if strings.TrimSpace(job.RawImagePath) != "" {
		return StatusCaptured
	}
	return StatusQueued
}
