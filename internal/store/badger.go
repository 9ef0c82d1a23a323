package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
)

// BadgerStore persists values in an embedded BadgerDB. Badger transactions
// are optimistic, so Transact maps directly onto db.Update and retries on
// badger.ErrConflict.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: log.With().Str("component", "badger").Logger()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Get returns the value at path.
func (s *BadgerStore) Get(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return out, nil
}

// Set overwrites the value at path.
func (s *BadgerStore) Set(ctx context.Context, path string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), value)
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Update shallow-merges fields into the object at path.
func (s *BadgerStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return updateViaTransact(ctx, s, path, fields)
}

// Transact runs fn inside a badger read-write transaction.
func (s *BadgerStore) Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error) {
	key := []byte(path)
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return TxResult{Attempts: attempt - 1}, err
		}

		var res TxResult
		err := s.db.Update(func(txn *badger.Txn) error {
			var current []byte
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if current, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, err := fn(current)
			if err != nil {
				return &txAbort{err: err}
			}
			if next == nil {
				res = TxResult{Value: current}
				return nil
			}
			if err := txn.Set(key, next); err != nil {
				return err
			}
			res = TxResult{Committed: true, Value: next}
			return nil
		})
		res.Attempts = attempt

		var abort *txAbort
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, badger.ErrConflict):
			continue
		case errors.As(err, &abort):
			return res, abort.err
		default:
			return res, unavailable("transact", err)
		}
	}
	return TxResult{Attempts: MaxAttempts}, ErrConflict
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
