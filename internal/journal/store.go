// Package journal records one row per dispatched connection.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrSessionNotFound is returned when Finish or Get names an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Session is one journaled connection.
type Session struct {
	ID         string     `json:"id"`
	Protocol   string     `json:"protocol"`
	RemoteAddr string     `json:"remote_addr"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	Requests   int64      `json:"requests"`
	Responses  int64      `json:"responses"`
}

// Result is how a session ended.
type Result struct {
	Outcome   string // ok | service | encoder | decoder | cancelled | error
	Error     error
	Requests  int64
	Responses int64
}

// Store persists sessions in the sessions table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Start inserts an open session and returns its ID.
func (s *Store) Start(ctx context.Context, protocol, remoteAddr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(protocol) == "" {
		return "", fmt.Errorf("session protocol is empty")
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, protocol, remote_addr, started_at)
VALUES(?, ?, ?, ?);
`, id, protocol, remoteAddr, s.now().UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// Finish records the result of session id.
func (s *Store) Finish(ctx context.Context, id string, res Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errText any
	if res.Error != nil {
		errText = res.Error.Error()
	}

	out, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET finished_at = ?, outcome = ?, error = ?, requests = ?, responses = ?
WHERE id = ?;
`, s.now().UTC().Format(timeFormat), res.Outcome, errText, res.Requests, res.Responses, id)
	if err != nil {
		return fmt.Errorf("update session %q: %w", id, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %q: %w", id, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Get returns one session by ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, protocol, remote_addr, started_at, finished_at, outcome, error, requests, responses
FROM sessions
WHERE id = ?;
`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, protocol, remote_addr, started_at, finished_at, outcome, error, requests, responses
FROM sessions
ORDER BY started_at DESC, id
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess       Session
		startedAt  string
		finishedAt sql.NullString
		outcome    sql.NullString
		errText    sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Protocol, &sess.RemoteAddr, &startedAt, &finishedAt, &outcome, &errText, &sess.Requests, &sess.Responses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	sess.StartedAt = t
	if finishedAt.Valid {
		ft, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		sess.FinishedAt = &ft
	}
	sess.Outcome = outcome.String
	sess.Error = errText.String
	return &sess, nil
}
