package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// RecoveryPolicy selects how Recover treats state left behind by a crash.
type RecoveryPolicy string

const (
	// RecoveryResume requeues interrupted work and never deletes rows.
	RecoveryResume RecoveryPolicy = "resume"
	// RecoveryDestructive discards in-flight jobs, sessions, and intake artifacts.
	RecoveryDestructive RecoveryPolicy = "destructive"
)

// ParseRecoveryPolicy converts a configuration value to a RecoveryPolicy.
func ParseRecoveryPolicy(value string) (RecoveryPolicy, error) {
	switch RecoveryPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case RecoveryResume, "":
		return RecoveryResume, nil
	case RecoveryDestructive:
		return RecoveryDestructive, nil
	default:
		return "", validation("recovery", fmt.Sprintf("unknown policy %q", value))
	}
}

// Recovered error stamped on requeued jobs that carry no error of their own.
const (
	RecoveredErrorCode    = "RECOVERED_AFTER_CRASH"
	RecoveredErrorMessage = "job was in flight when the previous process stopped; requeued on startup"
)

// IntakePurger removes queued input artifacts that no job has consumed yet.
type IntakePurger interface {
	Purge(ctx context.Context) (int, error)
}

// RecoveryOptions carries collaborators used by destructive recovery.
type RecoveryOptions struct {
	Intake IntakePurger
}

// RecoveryReport counts what a recovery run changed.
type RecoveryReport struct {
	Policy             RecoveryPolicy `json:"policy"`
	Requeued           int64          `json:"requeued"`
	LeasesCleared      int64          `json:"leases_cleared"`
	Deleted            int64          `json:"deleted"`
	SessionsTerminated int64          `json:"sessions_terminated"`
	ArtifactsRemoved   int            `json:"artifacts_removed"`
}

// Changed reports whether the run modified anything.
func (r RecoveryReport) Changed() bool {
	return r.Requeued+r.LeasesCleared+r.Deleted+r.SessionsTerminated > 0 || r.ArtifactsRemoved > 0
}

// Recover reconciles state left by a previous process. It must run once at
// startup before any claim is served. Both policies are idempotent.
func (s *Store) Recover(ctx context.Context, policy RecoveryPolicy, opts RecoveryOptions) (RecoveryReport, error) {
	switch policy {
	case RecoveryResume:
		return s.recoverResume(ctx)
	case RecoveryDestructive:
		return s.recoverDestructive(ctx, opts)
	default:
		return RecoveryReport{}, validation("recovery", fmt.Sprintf("unknown policy %q", policy))
	}
}

const requeueStatusCase = "CASE WHEN raw_image_path IS NOT NULL AND raw_image_path <> '' THEN ? ELSE ? END"

func (s *Store) recoverResume(ctx context.Context) (RecoveryReport, error) {
	report := RecoveryReport{Policy: RecoveryResume}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		report = RecoveryReport{Policy: RecoveryResume}
		now := formatTime(s.now())

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO job_events (job_id, status, actor, detail, recorded_at)
             SELECT id, `+requeueStatusCase+`, ?, ?, ? FROM scan_jobs WHERE status = ?`),
			string(StatusCaptured), string(StatusQueued),
			actorRecovery, "requeued after crash", now,
			string(StatusInferencing),
		); err != nil {
			return fmt.Errorf("record requeue history: %w", err)
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE scan_jobs
             SET status = `+requeueStatusCase+`,
                 error_code = CASE WHEN error_code IS NULL OR error_code = '' THEN ? ELSE error_code END,
                 error_message = CASE WHEN error_code IS NULL OR error_code = '' THEN ? ELSE error_message END,
                 processor_id = NULL, locked_at = NULL, updated_at = ?
             WHERE status = ?`),
			string(StatusCaptured), string(StatusQueued),
			RecoveredErrorCode, RecoveredErrorMessage,
			now,
			string(StatusInferencing),
		)
		if err != nil {
			return fmt.Errorf("requeue inferencing jobs: %w", err)
		}
		if report.Requeued, err = res.RowsAffected(); err != nil {
			return err
		}

		report.LeasesCleared, err = s.clearLeases(ctx, tx, now)
		return err
	})
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("resume recovery: %w", err)
	}
	return report, nil
}

func (s *Store) recoverDestructive(ctx context.Context, opts RecoveryOptions) (RecoveryReport, error) {
	report := RecoveryReport{Policy: RecoveryDestructive}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		report = RecoveryReport{Policy: RecoveryDestructive}
		now := formatTime(s.now())

		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE operator_sessions SET status = ?, ended_at = ? WHERE status = ?`),
			SessionAborted, now, SessionActive)
		if err != nil {
			return fmt.Errorf("abort operator sessions: %w", err)
		}
		if report.SessionsTerminated, err = res.RowsAffected(); err != nil {
			return err
		}

		if report.Deleted, err = s.deleteActive(ctx, tx); err != nil {
			return err
		}

		report.LeasesCleared, err = s.clearLeases(ctx, tx, now)
		return err
	})
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("destructive recovery: %w", err)
	}

	if opts.Intake != nil {
		removed, err := opts.Intake.Purge(ctx)
		report.ArtifactsRemoved = removed
		if err != nil {
			return report, fmt.Errorf("purge intake: %w", err)
		}
	}
	return report, nil
}

func (s *Store) clearLeases(ctx context.Context, tx *sqlx.Tx, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE scan_jobs SET processor_id = NULL, locked_at = NULL, updated_at = ?
         WHERE processor_id IS NOT NULL OR locked_at IS NOT NULL`), now)
	if err != nil {
		return 0, fmt.Errorf("clear leases: %w", err)
	}
	return res.RowsAffected()
}

// deleteActive removes every job in an active state together with its history.
func (s *Store) deleteActive(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	placeholders := makePlaceholders(len(activeStatuses))
	args := statusArgs(activeStatuses)
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM job_events WHERE job_id IN (SELECT id FROM scan_jobs WHERE status IN (`+placeholders+`))`), args...); err != nil {
		return 0, fmt.Errorf("delete active job history: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM scan_jobs WHERE status IN (`+placeholders+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("delete active jobs: %w", err)
	}
	return res.RowsAffected()
}
