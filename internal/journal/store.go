package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

// Event is one journaled control-mode notification or command, the
// daemon's flight recorder row.
type Event struct {
	EventID    string
	Session    string
	Kind       string
	WindowID   string
	PaneID     string
	Detail     string
	RecordedAt time.Time
}

// NewEvent fills in the generated id and timestamp.
func NewEvent(session, kind string) Event {
	return Event{
		EventID:    uuid.NewString(),
		Session:    session,
		Kind:       kind,
		RecordedAt: time.Now().UTC(),
	}
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod journal path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InsertEvent(ctx context.Context, ev Event) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events(event_id, session_name, kind, window_id, pane_id, detail, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, ev.EventID, ev.Session, ev.Kind, nullIfEmpty(ev.WindowID), nullIfEmpty(ev.PaneID), nullIfEmpty(ev.Detail), ts(ev.RecordedAt))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Query filters ListEvents. Zero values mean no filter; Limit 0 means
// no limit.
type Query struct {
	Session string
	Kind    string
	PaneID  string
	Limit   int
}

func (s *Store) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	query := `
SELECT event_id, session_name, kind, COALESCE(window_id, ''), COALESCE(pane_id, ''), COALESCE(detail, ''), recorded_at
FROM events`
	var (
		where []string
		args  []any
	)
	if q.Session != "" {
		where = append(where, "session_name = ?")
		args = append(args, q.Session)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.PaneID != "" {
		where = append(where, "pane_id = ?")
		args = append(args, q.PaneID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, event_id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			ev          Event
			recordedStr string
		)
		if err := rows.Scan(&ev.EventID, &ev.Session, &ev.Kind, &ev.WindowID, &ev.PaneID, &ev.Detail, &recordedStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.RecordedAt, err = parseTS(recordedStr)
		if err != nil {
			return nil, fmt.Errorf("parse event recorded_at: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter events: %w", err)
	}
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT event_id, session_name, kind, COALESCE(window_id, ''), COALESCE(pane_id, ''), COALESCE(detail, ''), recorded_at
FROM events
WHERE event_id = ?
`, eventID)
	var (
		ev          Event
		recordedStr string
	)
	if err := row.Scan(&ev.EventID, &ev.Session, &ev.Kind, &ev.WindowID, &ev.PaneID, &ev.Detail, &recordedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("get event: %w", err)
	}
	var err error
	ev.RecordedAt, err = parseTS(recordedStr)
	if err != nil {
		return Event{}, fmt.Errorf("parse event recorded_at: %w", err)
	}
	return ev, nil
}

// DeleteEventsBefore enforces retention, returning how many rows went.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE recorded_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old events rows affected: %w", err)
	}
	return deleted, nil
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
