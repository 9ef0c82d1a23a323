package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

type memEntry struct {
	value   []byte
	version uint64
}

// MemoryStore is an in-process Store used by tests and ephemeral runs.
// Transact follows the same optimistic protocol as the persistent
// backends: fn runs outside the lock and the write only lands if the
// entry version is unchanged.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// Err, if set, is returned (wrapped in ErrStorageUnavailable) by every
	// operation. Used to simulate an unreachable backend.
	Err error

	// BeforeCommit, if set, runs after fn and before the version check on
	// each Transact attempt. Tests use it to inject concurrent writes.
	BeforeCommit func(path string, attempt int)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memEntry{}}
}

func (m *MemoryStore) fail(op string) error {
	m.mu.Lock()
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// SetErr sets or clears the simulated backend failure.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// Get returns a copy of the value at path.
func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := m.fail("get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

// Set overwrites the value at path.
func (m *MemoryStore) Set(ctx context.Context, path string, value []byte) error {
	if err := m.fail("set"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[path]
	m.entries[path] = memEntry{value: bytes.Clone(value), version: e.version + 1}
	return nil
}

// Update shallow-merges fields into the object at path.
func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return updateViaTransact(ctx, m, path, fields)
}

// Transact runs fn with optimistic concurrency control.
func (m *MemoryStore) Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return TxResult{Attempts: attempt - 1}, err
		}
		if err := m.fail("transact"); err != nil {
			return TxResult{Attempts: attempt - 1}, err
		}

		m.mu.Lock()
		e, exists := m.entries[path]
		m.mu.Unlock()

		var current []byte
		if exists {
			current = bytes.Clone(e.value)
		}
		next, err := fn(current)
		if err != nil {
			return TxResult{Attempts: attempt}, err
		}

		if m.BeforeCommit != nil {
			m.BeforeCommit(path, attempt)
		}

		m.mu.Lock()
		latest, stillExists := m.entries[path]
		if stillExists != exists || latest.version != e.version {
			m.mu.Unlock()
			continue
		}
		if next == nil {
			m.mu.Unlock()
			return TxResult{Value: current, Attempts: attempt}, nil
		}
		m.entries[path] = memEntry{value: bytes.Clone(next), version: e.version + 1}
		m.mu.Unlock()
		return TxResult{Committed: true, Value: bytes.Clone(next), Attempts: attempt}, nil
	}
	return TxResult{Attempts: MaxAttempts}, ErrConflict
}

// Delete removes the value at path. It is not part of Store and exists so
// tests can simulate a missing record.
func (m *MemoryStore) Delete(path string) {
	m.mu.Lock()
	delete(m.entries, path)
	m.mu.Unlock()
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)

// IsUnavailable reports whether err is a storage failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConflict)
}
