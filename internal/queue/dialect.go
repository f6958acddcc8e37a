package queue

import (
	_ "embed"
	"errors"
	"strings"

	"github.com/lib/pq"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// dialect captures the few statements that differ between SQLite and PostgreSQL.
// Everything else is written with ? placeholders and rebound by sqlx.
type dialect struct {
	name string
	// schema is executed once when the database has no schema_version table.
	schema string
	// tableExists counts tables named by the single bind argument.
	tableExists string
	// claimLock is appended to the claim subquery.
	claimLock string
	// rowLock is appended to single-row selects inside transactions.
	rowLock string
	// mergeTimings merges a JSON object parameter into timings_json.
	mergeTimings string
	// appendControl appends a JSON value parameter to camera_controls_json.
	appendControl string
	// columnsQuery lists the columns of scan_jobs.
	columnsQuery string
	retryable    func(error) bool
	unique       func(error) bool
}

var sqliteDialect = dialect{
	name:          "sqlite",
	schema:        sqliteSchemaSQL,
	tableExists:   "SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?",
	mergeTimings:  "json_patch(COALESCE(timings_json, '{}'), ?)",
	appendControl: "json_insert(COALESCE(camera_controls_json, '[]'), '$[#]', json(?))",
	columnsQuery:  "SELECT name FROM pragma_table_info('scan_jobs')",
	retryable:     isSQLiteBusy,
	unique:        isSQLiteUnique,
}

var postgresDialect = dialect{
	name:          "postgres",
	schema:        postgresSchemaSQL,
	tableExists:   "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?",
	claimLock:     " FOR UPDATE SKIP LOCKED",
	rowLock:       " FOR UPDATE",
	mergeTimings:  "(COALESCE(timings_json, '{}')::jsonb || ?::jsonb)::text",
	appendControl: "(COALESCE(camera_controls_json, '[]')::jsonb || jsonb_build_array(?::jsonb))::text",
	columnsQuery:  "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = 'scan_jobs'",
	retryable:     func(error) bool { return false },
	unique:        isPostgresUnique,
}

const (
	sqliteBusyCode   = 5
	sqliteConstraint = 19
	pqUniqueCode     = "23505"
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteUnique(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}
	var coder interface{ Code() int }
	return errors.As(err, &coder) && coder.Code()&0xff == sqliteConstraint
}

func isPostgresUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueCode
}
