package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both implementations must satisfy the same contract, so the tests
// run against each.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte("snapshot bytes")

			require.NoError(t, store.Put(ctx, "snapshots/current", bytes.NewReader(payload), int64(len(payload))))

			rc, err := store.Get(ctx, "snapshots/current")
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("v1")), 2))
			require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("v2")), 2))

			rc, err := store.Get(ctx, "k")
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)
		})
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("v")), 1))
			require.NoError(t, store.Delete(ctx, "k"))
			require.NoError(t, store.Delete(ctx, "k"))

			_, err := store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, key := range []string{"snapshots/a", "snapshots/b", "other/c"} {
				require.NoError(t, store.Put(ctx, key, bytes.NewReader([]byte("x")), 1))
			}

			keys, err := store.List(ctx, "snapshots/")
			require.NoError(t, err)
			assert.Equal(t, []string{"snapshots/a", "snapshots/b"}, keys)

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestStoreConcurrentPuts(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					payload := []byte(fmt.Sprintf("payload-%d", i))
					key := fmt.Sprintf("blob-%d", i)
					assert.NoError(t, store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload))))
				}(i)
			}
			wg.Wait()

			keys, err := store.List(ctx, "blob-")
			require.NoError(t, err)
			assert.Len(t, keys, 8)
		})
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("old")), 3))

	rc, err := store.Get(ctx, "k")
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("new")), 3))

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}
