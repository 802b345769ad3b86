package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// historyVersion is stored in the database header (PRAGMA user_version).
// Version 1 kept captured_at as text.
const historyVersion = 2

// ErrSchemaMismatch is returned when the history file was written by an
// incompatible version
var ErrSchemaMismatch = errors.New("history schema mismatch")

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read history version: %w", err)
	}

	switch version {
	case historyVersion:
		return nil
	case 0:
		// a fresh file, unless an older layout left its tables behind
		var tables int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'captures'",
		).Scan(&tables); err != nil {
			return fmt.Errorf("inspect history tables: %w", err)
		}
		if tables == 0 {
			return s.install(ctx)
		}
	}
	return fmt.Errorf("%w: %s has version %d, want %d (remove it to start a new history)",
		ErrSchemaMismatch, s.path, version, historyVersion)
}

// install creates the tables and stamps the version in one transaction
func (s *Store) install(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history install: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create history tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", historyVersion)); err != nil {
		return fmt.Errorf("stamp history version: %w", err)
	}
	return tx.Commit()
}
