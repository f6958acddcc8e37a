package queue

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"cardmint/internal/services"
)

const (
	actorSystem   = "system"
	actorOperator = "operator"
	actorRecovery = "recovery"
)

// actorFromContext names who performed a write: the leasing worker, an API
// request, or the process itself.
func actorFromContext(ctx context.Context) string {
	if worker, ok := services.WorkerIDFromContext(ctx); ok {
		return worker
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return actorOperator
	}
	return actorSystem
}

func (s *Store) recordEvent(ctx context.Context, tx *sqlx.Tx, id string, status Status, actor, detail string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO job_events (job_id, status, actor, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`),
		id, string(status), actor, nullableString(detail), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record job event: %w", err)
	}
	return nil
}

// History returns the status history of a job, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, job_id, status, actor, detail, recorded_at FROM job_events WHERE job_id = ? ORDER BY id`), id)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var (
			event    JobEvent
			status   string
			actor    *string
			detail   *string
			recorded string
		)
		if err := rows.Scan(&event.ID, &event.JobID, &status, &actor, &detail, &recorded); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		event.Status = Status(status)
		if actor != nil {
			event.Actor = *actor
		}
		if detail != nil {
			event.Detail = *detail
		}
		if t, err := parseTimeString(recorded); err == nil {
			event.RecordedAt = t
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
