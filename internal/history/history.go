package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one finalized capture
type Entry struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"session_id"`
	TrackID    string        `json:"track_id"`
	Title      string        `json:"title"`
	Path       string        `json:"path"`
	Duration   time.Duration `json:"duration"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Store persists capture history in SQLite
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database at path
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
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
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts a finalized capture
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.CapturedAt.IsZero() {
		e.CapturedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (session_id, track_id, title, path, duration_ms, captured_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID,
		e.TrackID,
		e.Title,
		e.Path,
		e.Duration.Milliseconds(),
		e.CapturedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert capture: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, session_id, track_id, title, path, duration_ms, captured_at
              FROM captures ORDER BY captured_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMs int64
			capturedAt int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TrackID, &e.Title, &e.Path, &durationMs, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CapturedAt = time.Unix(0, capturedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return entries, nil
}
