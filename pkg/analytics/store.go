// Package analytics persists stand events to SQLite and summarises them per
// reference image.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded stand event.
type Entry struct {
	ID       string              `json:"id"`
	Session  string              `json:"session"`
	Stand    stand.ImageIdentity `json:"stand"`
	Kind     stand.EventKind     `json:"kind"`
	Occurred time.Time           `json:"occurred_at"`
}

// StandSummary aggregates the events of one stand.
type StandSummary struct {
	Stand         stand.ImageIdentity `json:"stand"`
	Activations   int                 `json:"activations"`
	Suspensions   int                 `json:"suspensions"`
	Clears        int                 `json:"clears"`
	LastActivated *time.Time          `json:"last_activated,omitempty"`
}

// Store manages event persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the analytics database and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores one stand event for a session and returns the stored entry.
func (s *Store) Record(ctx context.Context, session string, e stand.Event) (Entry, error) {
	if e.Identity == "" || e.Kind == "" {
		return Entry{}, errors.New("analytics: event needs an identity and a kind")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	entry := Entry{
		ID:       uuid.NewString(),
		Session:  session,
		Stand:    e.Identity,
		Kind:     e.Kind,
		Occurred: at.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stand_events (id, session_id, stand, kind, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Session, string(entry.Stand), string(entry.Kind), entry.Occurred.Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert stand event: %w", err)
	}
	return entry, nil
}

// Summary returns per-stand counts, sorted by stand.
func (s *Store) Summary(ctx context.Context) ([]StandSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT stand,
               SUM(CASE WHEN kind = 'activated' THEN 1 ELSE 0 END),
               SUM(CASE WHEN kind = 'suspended' THEN 1 ELSE 0 END),
               SUM(CASE WHEN kind = 'cleared' THEN 1 ELSE 0 END),
               MAX(CASE WHEN kind = 'activated' THEN occurred_at END)
        FROM stand_events
        GROUP BY stand
        ORDER BY stand`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []StandSummary
	for rows.Next() {
		var (
			sum  StandSummary
			id   string
			last sql.NullString
		)
		if err := rows.Scan(&id, &sum.Activations, &sum.Suspensions, &sum.Clears, &last); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Stand = stand.ImageIdentity(id)
		if last.Valid {
			t, err := time.Parse(timeLayout, last.String)
			if err != nil {
				return nil, fmt.Errorf("parse last activation: %w", err)
			}
			sum.LastActivated = &t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, stand, kind, occurred_at FROM stand_events
         ORDER BY occurred_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e               Entry
			id, kind, occAt string
		)
		if err := rows.Scan(&e.ID, &e.Session, &id, &kind, &occAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Stand = stand.ImageIdentity(id)
		e.Kind = stand.EventKind(kind)
		if e.Occurred, err = time.Parse(timeLayout, occAt); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
