package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	bs, err := OpenBadger("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	ss, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": bs,
		"sqlite": ss,
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "a", []byte(`{"x":1,"y":2}`)))
			require.NoError(t, s.Set(ctx, "a", []byte(`{"x":3}`)))

			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"x":3}`, string(got))
		})
	}
}

func TestUpdateMergesShallow(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "rec", []byte(`{"a":1,"nested":{"k":"v"},"keep":true}`)))
			require.NoError(t, s.Update(ctx, "rec", map[string]any{
				"a":      2,
				"nested": map[string]any{"other": 1},
				"gone":   nil,
			}))

			got, err := s.Get(ctx, "rec")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2,"nested":{"other":1},"keep":true,"gone":null}`, string(got))
		})
	}
}

func TestUpdateCreatesMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Update(ctx, "fresh", map[string]any{"a": true}))
			got, err := s.Get(ctx, "fresh")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":true}`, string(got))
		})
	}
}

func TestTransactCommitAndAbort(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			res, err := s.Transact(ctx, "counter", func(current []byte) ([]byte, error) {
				assert.Nil(t, current)
				return []byte("1"), nil
			})
			require.NoError(t, err)
			assert.True(t, res.Committed)
			assert.Equal(t, "1", string(res.Value))

			res, err = s.Transact(ctx, "counter", func(current []byte) ([]byte, error) {
				assert.Equal(t, "1", string(current))
				return nil, nil
			})
			require.NoError(t, err)
			assert.False(t, res.Committed, "nil result must abort")
			assert.Equal(t, "1", string(res.Value))

			got, err := s.Get(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, "1", string(got))
		})
	}
}

func TestTransactFnErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Transact(ctx, "k", func([]byte) ([]byte, error) { return nil, boom })
			assert.ErrorIs(t, err, boom)
			assert.False(t, errors.Is(err, ErrStorageUnavailable))

			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryTransactRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "n", []byte("0")))

	s.BeforeCommit = func(path string, attempt int) {
		if attempt == 1 {
			// A competing writer lands between read and commit.
			s.mu.Lock()
			e := s.entries[path]
			s.entries[path] = memEntry{value: []byte("10"), version: e.version + 1}
			s.mu.Unlock()
		}
	}

	var seen []string
	res, err := s.Transact(ctx, "n", func(current []byte) ([]byte, error) {
		seen = append(seen, string(current))
		n, _ := strconv.Atoi(string(current))
		return []byte(strconv.Itoa(n + 1)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"0", "10"}, seen)
	assert.Equal(t, "11", string(res.Value))
}

func TestMemoryTransactGivesUp(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.BeforeCommit = func(path string, _ int) {
		s.mu.Lock()
		e := s.entries[path]
		s.entries[path] = memEntry{value: []byte("x"), version: e.version + 1}
		s.mu.Unlock()
	}

	res, err := s.Transact(ctx, "n", func([]byte) ([]byte, error) { return []byte("y"), nil })
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, MaxAttempts, res.Attempts)
	assert.True(t, IsUnavailable(err))
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, err := s.Transact(ctx, "n", func(current []byte) ([]byte, error) {
					n := 0
					if current != nil {
						n, _ = strconv.Atoi(string(current))
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				if err == nil && res.Committed {
					mu.Lock()
					committed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(committed), string(got), "every commit must be counted exactly once")
}

func TestMemoryUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetErr(errors.New("disk gone"))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, s.Set(ctx, "a", []byte("1")), ErrStorageUnavailable)
	assert.ErrorIs(t, s.Update(ctx, "a", map[string]any{"x": 1}), ErrStorageUnavailable)

	s.SetErr(nil)
	assert.NoError(t, s.Set(ctx, "a", []byte("1")))
}

func TestPrefixedNamespacesPaths(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	prod := WithPrefix(inner, "prod/")
	dev := WithPrefix(inner, "dev")

	require.NoError(t, prod.Set(ctx, "maintenance", []byte(`{"currentHours":1}`)))
	require.NoError(t, dev.Set(ctx, "/maintenance", []byte(`{"currentHours":2}`)))

	raw, err := inner.Get(ctx, "prod/maintenance")
	require.NoError(t, err)
	var rec map[string]float64
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, 1.0, rec["currentHours"])

	raw, err = dev.Get(ctx, "maintenance")
	require.NoError(t, err)
	assert.JSONEq(t, `{"currentHours":2}`, string(raw))

	assert.Same(t, Store(inner), WithPrefix(inner, ""))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("etcd", t.TempDir(), zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenEmptyDataDirStaysInMemory(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()
	for _, backend := range []string{BackendBadger, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			s, err := Open(backend, "", zerolog.Nop())
			require.NoError(t, err)
			defer s.Close()

			require.NoError(t, s.Set(ctx, "maintenance", []byte(`{"currentHours":1}`)))
			raw, err := s.Get(ctx, "maintenance")
			require.NoError(t, err)
			assert.JSONEq(t, `{"currentHours":1}`, string(raw))
		})
	}
	entries, err := os.ReadDir(".")
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing should be written to the working directory")
}
