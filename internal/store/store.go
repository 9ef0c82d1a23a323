// Package store provides the path-addressed key-value persistence used by the
// coordination and maintenance engines.
//
// Values are JSON documents. Update performs a shallow merge of top-level
// fields; Transact runs an optimistic read-modify-write that is retried
// against the latest value until it commits or the caller aborts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no value exists at the path.
	ErrNotFound = errors.New("store: not found")

	// ErrStorageUnavailable wraps every backend failure. Callers treat it as
	// recoverable and retry on the next trigger.
	ErrStorageUnavailable = errors.New("store: storage unavailable")

	// ErrConflict is returned when a transaction could not commit within
	// MaxAttempts because of concurrent writers.
	ErrConflict = errors.New("store: transaction conflict")
)

// MaxAttempts bounds the optimistic retry loop of Transact.
const MaxAttempts = 10

// TxFunc computes the next value from the current one. current is nil when
// no value exists. Returning a nil slice and nil error aborts the
// transaction without writing. The function may run more than once and
// must not have side effects.
type TxFunc func(current []byte) ([]byte, error)

// TxResult describes the outcome of Transact.
type TxResult struct {
	// Committed is false when fn aborted.
	Committed bool
	// Value is the committed value, or the value fn observed on abort.
	Value []byte
	// Attempts is the number of times fn ran.
	Attempts int
}

// Store is the persistence boundary.
type Store interface {
	// Get returns the value at path or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Set overwrites the value at path.
	Set(ctx context.Context, path string, value []byte) error

	// Update shallow-merges fields into the JSON object at path, creating
	// it when missing. A nil field value is stored as JSON null.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Transact runs fn against the latest value and commits its result
	// atomically, retrying on conflict.
	Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error)

	// Close releases backend resources.
	Close() error
}

// txAbort carries an error returned by a TxFunc through a backend
// transaction so it can be told apart from storage failures.
type txAbort struct{ err error }

func (a *txAbort) Error() string { return a.err.Error() }
func (a *txAbort) Unwrap() error { return a.err }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// mergeFields overlays fields onto the JSON object in existing.
func mergeFields(existing []byte, fields map[string]any) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("decode existing object: %w", err)
		}
		if doc == nil {
			doc = map[string]json.RawMessage{}
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		doc[k] = raw
	}
	return json.Marshal(doc)
}

// updateViaTransact implements Update on top of Transact for backends
// without a native merge.
func updateViaTransact(ctx context.Context, s Store, path string, fields map[string]any) error {
	_, err := s.Transact(ctx, path, func(current []byte) ([]byte, error) {
		return mergeFields(current, fields)
	})
	return err
}

// Prefixed namespaces every path of an underlying store, typically by
// deployment environment.
type Prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix returns a store that prepends prefix to every path.
// An empty prefix returns inner unchanged.
func WithPrefix(inner Store, prefix string) Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return inner
	}
	return &Prefixed{inner: inner, prefix: prefix}
}

func (p *Prefixed) path(path string) string {
	return p.prefix + "/" + strings.TrimPrefix(path, "/")
}

// Get reads the namespaced path.
func (p *Prefixed) Get(ctx context.Context, path string) ([]byte, error) {
	return p.inner.Get(ctx, p.path(path))
}

// Set writes the namespaced path.
func (p *Prefixed) Set(ctx context.Context, path string, value []byte) error {
	return p.inner.Set(ctx, p.path(path), value)
}

// Update merges into the namespaced path.
func (p *Prefixed) Update(ctx context.Context, path string, fields map[string]any) error {
	return p.inner.Update(ctx, p.path(path), fields)
}

// Transact runs fn against the namespaced path.
func (p *Prefixed) Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error) {
	return p.inner.Transact(ctx, p.path(path), fn)
}

// Close closes the underlying store.
func (p *Prefixed) Close() error {
	return p.inner.Close()
}
