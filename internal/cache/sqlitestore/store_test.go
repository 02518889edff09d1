package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/cache/cachetest"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Storage {
		return openTestStore(t, filepath.Join(t.TempDir(), "cache.db"))
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	key := cachetest.Key(t, "https://khuddam.example/offline.html")

	first, err := Open(path)
	require.NoError(t, err)
	p, err := first.Open(ctx, "khuddam-static-v1")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, key, cachetest.Body("offline")))
	require.NoError(t, first.Close())

	second := openTestStore(t, path)
	exists, err := second.Has(ctx, "khuddam-static-v1")
	require.NoError(t, err)
	require.True(t, exists)

	p, err = second.Open(ctx, "khuddam-static-v1")
	require.NoError(t, err)
	resp, err := p.Match(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "offline", string(resp.Body))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
