package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps each path in a row with a version column. Transact is
// a compare-and-swap on that version.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dbPath. Use ":memory:" for an
// in-memory database.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers the way sqlite wants anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		path TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		version INTEGER NOT NULL
	);`)
	return err
}

// Get returns the value at path.
func (s *SQLiteStore) Get(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE path = ?", path).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return value, nil
}

// Set overwrites the value at path.
func (s *SQLiteStore) Set(ctx context.Context, path string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (path, value, version) VALUES (?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, version = kv.version + 1`,
		path, value)
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Update shallow-merges fields into the object at path.
func (s *SQLiteStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return updateViaTransact(ctx, s, path, fields)
}

// Transact reads the row, runs fn and writes back only if the version
// still matches.
func (s *SQLiteStore) Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		var (
			current []byte
			version int64
			exists  = true
		)
		err := s.db.QueryRowContext(ctx, "SELECT value, version FROM kv WHERE path = ?", path).Scan(&current, &version)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
			current = nil
		} else if err != nil {
			return TxResult{Attempts: attempt - 1}, unavailable("transact read", err)
		}

		next, err := fn(current)
		if err != nil {
			return TxResult{Attempts: attempt}, err
		}
		if next == nil {
			return TxResult{Value: current, Attempts: attempt}, nil
		}

		var res sql.Result
		if exists {
			res, err = s.db.ExecContext(ctx,
				"UPDATE kv SET value = ?, version = version + 1 WHERE path = ? AND version = ?",
				next, path, version)
		} else {
			res, err = s.db.ExecContext(ctx,
				"INSERT INTO kv (path, value, version) VALUES (?, ?, 1) ON CONFLICT(path) DO NOTHING",
				path, next)
		}
		if err != nil {
			return TxResult{Attempts: attempt}, unavailable("transact write", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return TxResult{Attempts: attempt}, unavailable("transact write", err)
		}
		if n == 0 {
			continue
		}
		return TxResult{Committed: true, Value: next, Attempts: attempt}, nil
	}
	return TxResult{Attempts: MaxAttempts}, ErrConflict
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
