package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// QueueDepth counts jobs still in flight. Admission control compares it with
// the configured maximum.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	query := fmt.Sprintf(`SELECT COUNT(1) FROM scan_jobs WHERE status IN (%s)`, makePlaceholders(len(activeStatuses)))
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), statusArgs(activeStatuses)...).Scan(&depth); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// ClearQueue deletes every job in an active state and returns how many were removed.
// Accepted and parked jobs are kept.
func (s *Store) ClearQueue(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		removed, err = s.deleteActive(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return removed, nil
}

// ClearAll deletes every job, its history, and all sessions.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_events`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM operator_sessions`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scan_jobs`)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear all jobs: %w", err)
	}
	return removed, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM scan_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusOperatorPending:
			health.OperatorPending += count
		case StatusAccepted:
			health.Accepted += count
		case StatusFailed:
			health.Failed += count
		default:
			if IsActiveStatus(status) {
				health.Active += count
			}
		}
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM scan_jobs WHERE processor_id IS NOT NULL`).Scan(&health.Leased); err != nil {
		return HealthSummary{}, fmt.Errorf("count leases: %w", err)
	}
	return health, nil
}

var expectedColumns = strings.Split(strings.ReplaceAll(jobColumns, " ", ""), ",")

// CheckHealth returns diagnostic information about the job database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		Driver:   s.dialect.name,
		Location: s.location,
	}

	if s.dialect.name == sqliteDialect.name {
		info, err := os.Stat(s.location)
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("stat job database: %w", err)
		}
		if info.IsDir() {
			return health, fmt.Errorf("job database path %q is a directory", s.location)
		}
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job database: %w", err)
	}
	health.Readable = true

	var tables int
	if err := s.db.QueryRowContext(connCtx, s.db.Rebind(s.dialect.tableExists), "scan_jobs").Scan(&tables); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = tables > 0

	if health.TableExists {
		var columns []string
		if err := s.db.SelectContext(connCtx, &columns, s.dialect.columnsQuery); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("table info: %w", err)
		}
		health.ColumnsPresent = columns
		present := make(map[string]struct{}, len(columns))
		for _, col := range columns {
			present[col] = struct{}{}
		}
		for _, col := range expectedColumns {
			if _, ok := present[col]; !ok {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		if err := s.db.QueryRowContext(connCtx, `SELECT COUNT(*) FROM scan_jobs`).Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count scan jobs: %w", err)
		}
		if version, err := s.schemaVersion(connCtx); err == nil {
			health.SchemaVersion = version
		}
	}

	if s.dialect.name != sqliteDialect.name {
		health.IntegrityCheck = health.Readable
		return health, nil
	}
	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
