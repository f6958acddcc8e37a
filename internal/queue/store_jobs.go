package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"cardmint/internal/services"
)

// Create inserts a new job in its initial state and records the first history
// row. The caller assigns the id.
func (s *Store) Create(ctx context.Context, input NewJob) (*ScanJob, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, validation("create", "job id is required")
	}
	status := input.Status
	if status == "" {
		status = StatusQueued
	}
	if _, ok := initialStatuses[status]; !ok {
		return nil, validation("create", fmt.Sprintf("status %s is not an initial status", status))
	}
	timings := input.Timings
	if timings == nil {
		timings = Timings{}
	}
	timingsJSON, err := encodeJSON(timings)
	if err != nil {
		return nil, fmt.Errorf("encode timings: %w", err)
	}

	now := formatTime(s.now())
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO scan_jobs (id, capture_uid, session_id, status, created_at, updated_at, raw_image_path, camera_controls_json, timings_json)
             VALUES (?, ?, ?, ?, ?, ?, ?, '[]', ?)`),
			id,
			nullableString(strings.TrimSpace(input.CaptureUID)),
			nullableString(strings.TrimSpace(input.SessionID)),
			string(status),
			now,
			now,
			nullableString(input.RawImagePath),
			timingsJSON,
		); err != nil {
			return err
		}
		return s.recordEvent(ctx, tx, id, status, actorFromContext(ctx), "created")
	})
	if err != nil {
		if s.dialect.unique(err) {
			return nil, services.Wrap(services.ErrValidation, errorStage, "create", describeJob(id), ErrDuplicate)
		}
		return nil, fmt.Errorf("insert scan job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by id.
func (s *Store) GetByID(ctx context.Context, id string) (*ScanJob, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+jobColumns+` FROM scan_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job: %w", err)
	}
	return job, nil
}

// GetByCaptureUID fetches the job created for a capture.
func (s *Store) GetByCaptureUID(ctx context.Context, captureUID string) (*ScanJob, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+jobColumns+` FROM scan_jobs WHERE capture_uid = ?`), captureUID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, errorStage, "get by capture", fmt.Sprintf("capture %q", captureUID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job by capture: %w", err)
	}
	return job, nil
}

// ListBySession returns a session's jobs in creation order.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*ScanJob, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scan_jobs WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
}

// ListRecent returns the newest jobs first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*ScanJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scan_jobs ORDER BY created_at DESC, seq DESC LIMIT ?`, limit)
}

// List returns jobs filtered by status in creation order. No statuses lists everything.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*ScanJob, error) {
	if len(statuses) == 0 {
		return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scan_jobs ORDER BY created_at, seq`)
	}
	query := fmt.Sprintf(`SELECT %s FROM scan_jobs WHERE status IN (%s) ORDER BY created_at, seq`,
		jobColumns, makePlaceholders(len(statuses)))
	return s.queryJobs(ctx, query, statusArgs(statuses)...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*ScanJob, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ScanJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// updateFields applies a field-scoped write. Zero affected rows is a
// write verification failure.
func (s *Store) updateFields(ctx context.Context, operation, id, assignments string, args ...any) error {
	args = append(args, formatTime(s.now()), id)
	res, err := s.execWithRetry(ctx, `UPDATE scan_jobs SET `+assignments+`, updated_at = ? WHERE id = ?`, args...)
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

// incrementCounter bumps an integer column and returns its new value.
func (s *Store) incrementCounter(ctx context.Context, operation, id, column string) (int, error) {
	ctx = ensureContext(ctx)
	query := s.db.Rebind(fmt.Sprintf(
		`UPDATE scan_jobs SET %[1]s = %[1]s + 1, updated_at = ? WHERE id = ? RETURNING %[1]s`, column))
	now := formatTime(s.now())
	var value int
	err := s.retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, now, id).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, noRowsAffected(operation, id)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", operation, err)
	}
	return value, nil
}

// UpdateImagePaths sets the non-empty paths in paths and leaves the rest untouched.
func (s *Store) UpdateImagePaths(ctx context.Context, id string, paths ImagePaths) error {
	if paths.empty() {
		return validation("update image paths", "no image paths supplied")
	}
	var (
		assignments []string
		args        []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		assignments = append(assignments, column+" = ?")
		args = append(args, value)
	}
	add("raw_image_path", paths.Raw)
	add("processed_image_path", paths.Processed)
	add("corrected_image_path", paths.Corrected)
	add("master_image_path", paths.Master)
	add("back_image_path", paths.Back)
	return s.updateFields(ctx, "update image paths", id, strings.Join(assignments, ", "), args...)
}

// AppendCameraControl appends one applied control to the job's capture record.
func (s *Store) AppendCameraControl(ctx context.Context, id string, control CameraControl) error {
	if strings.TrimSpace(control.Control) == "" {
		return validation("append camera control", "control name is required")
	}
	if control.AppliedAt.IsZero() {
		control.AppliedAt = s.now()
	}
	encoded, err := encodeJSON(control)
	if err != nil {
		return fmt.Errorf("encode camera control: %w", err)
	}
	return s.updateFields(ctx, "append camera control", id, "camera_controls_json = "+s.dialect.appendControl, encoded)
}

// UpdateTimings merges delta into the job's timings. Keys in delta overwrite
// existing keys; other keys are kept.
func (s *Store) UpdateTimings(ctx context.Context, id string, delta Timings) error {
	if delta == nil {
		delta = Timings{}
	}
	encoded, err := encodeJSON(delta)
	if err != nil {
		return fmt.Errorf("encode timings: %w", err)
	}
	return s.updateFields(ctx, "update timings", id, "timings_json = "+s.dialect.mergeTimings, encoded)
}

// UpdateError records the last failure seen for a job.
func (s *Store) UpdateError(ctx context.Context, id, code, message string) error {
	return s.updateFields(ctx, "update error", id, "error_code = ?, error_message = ?",
		nullableString(strings.TrimSpace(code)), nullableString(strings.TrimSpace(message)))
}

// ClearError removes the recorded failure after an explicit success.
func (s *Store) ClearError(ctx context.Context, id string) error {
	return s.updateFields(ctx, "clear error", id, "error_code = NULL, error_message = NULL")
}

// IncrementRetry bumps retry_count and returns the new value.
func (s *Store) IncrementRetry(ctx context.Context, id string) (int, error) {
	return s.incrementCounter(ctx, "increment retry", id, "retry_count")
}

// IncrementPptFailureCount bumps the pricing failure counter and returns the new value.
func (s *Store) IncrementPptFailureCount(ctx context.Context, id string) (int, error) {
	return s.incrementCounter(ctx, "increment ppt failures", id, "ppt_failure_count")
}

// UpdateExtraction stores classifier output. The truth core is never touched.
func (s *Store) UpdateExtraction(ctx context.Context, id string, extraction Extraction) error {
	var extracted any
	if len(extraction.Extracted) > 0 {
		if err := ValidateExtracted(extraction.Extracted); err != nil {
			return err
		}
		extracted = string(extraction.Extracted)
	}
	var top3 any
	if extraction.Top3 != nil {
		candidates := extraction.Top3
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}
		encoded, err := encodeJSON(candidates)
		if err != nil {
			return fmt.Errorf("encode candidates: %w", err)
		}
		top3 = encoded
	}
	return s.updateFields(ctx, "update extraction", id,
		"extracted_json = ?, top3_json = ?, inference_path = ?",
		extracted, top3, nullableString(extraction.InferencePath))
}
