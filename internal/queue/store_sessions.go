package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StartSession opens an operator capture session.
func (s *Store) StartSession(ctx context.Context, operator string) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		Operator:  strings.TrimSpace(operator),
		Status:    SessionActive,
		StartedAt: s.now(),
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO operator_sessions (id, operator, status, started_at) VALUES (?, ?, ?, ?)`,
		session.ID, nullableString(session.Operator), session.Status, formatTime(session.StartedAt),
	); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

// EndSession closes an active session.
func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE operator_sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		SessionEnded, formatTime(s.now()), id, SessionActive)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return invalidTransition("end session", id, "session is not active")
	}
	return nil
}

// GetSession fetches an operator session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sessions, err := s.querySessions(ctx, `SELECT id, operator, status, started_at, ended_at FROM operator_sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, notFound("get session", id)
	}
	return sessions[0], nil
}

// ListSessions returns sessions newest first. An empty status lists all.
func (s *Store) ListSessions(ctx context.Context, status string) ([]*Session, error) {
	if status == "" {
		return s.querySessions(ctx, `SELECT id, operator, status, started_at, ended_at FROM operator_sessions ORDER BY started_at DESC`)
	}
	return s.querySessions(ctx, `SELECT id, operator, status, started_at, ended_at FROM operator_sessions WHERE status = ? ORDER BY started_at DESC`, status)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var (
			session  Session
			operator sql.NullString
			started  string
			ended    sql.NullString
		)
		if err := rows.Scan(&session.ID, &operator, &session.Status, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.Operator = operator.String
		if t, err := parseTimeString(started); err == nil {
			session.StartedAt = t
		}
		if ended.Valid {
			if t, err := parseTimeString(ended.String); err == nil {
				session.EndedAt = &t
			}
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}
