// Package cachetest holds the behavioural contract every cache.Storage
// backend must satisfy. Backend packages call Run from their own tests.
package cachetest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/khuddam/sitecache/internal/cache"
)

// Factory returns a fresh, empty Storage for one subtest.
type Factory func(t *testing.T) cache.Storage

// Run executes the shared contract against the backend produced by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("PutAndMatch", func(t *testing.T) { testPutAndMatch(t, newStorage(t)) })
	t.Run("MatchMissing", func(t *testing.T) { testMatchMissing(t, newStorage(t)) })
	t.Run("KeysInsertionOrder", func(t *testing.T) { testKeysInsertionOrder(t, newStorage(t)) })
	t.Run("RePutMovesToEnd", func(t *testing.T) { testRePutMovesToEnd(t, newStorage(t)) })
	t.Run("DeleteEntry", func(t *testing.T) { testDeleteEntry(t, newStorage(t)) })
	t.Run("PartitionLifecycle", func(t *testing.T) { testPartitionLifecycle(t, newStorage(t)) })
	t.Run("PartitionsIsolated", func(t *testing.T) { testPartitionsIsolated(t, newStorage(t)) })
	t.Run("RejectsInvalidName", func(t *testing.T) { testRejectsInvalidName(t, newStorage(t)) })
}

// Key builds a GET key for rawURL.
func Key(t *testing.T, rawURL string) cache.Key {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return cache.KeyFor(http.MethodGet, u)
}

// Body returns a 200 response carrying payload.
func Body(payload string) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	return &cache.Response{Status: http.StatusOK, Header: header, Body: []byte(payload)}
}

func testPutAndMatch(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	p, err := storage.Open(ctx, "site-static-v1")
	require.NoError(t, err)
	require.Equal(t, "site-static-v1", p.Name())

	key := Key(t, "https://example.org/css/critical.css")
	resp := Body("body { margin: 0 }")
	resp.Header.Add("X-Multi", "a")
	resp.Header.Add("X-Multi", "b")
	require.NoError(t, p.Put(ctx, key, resp))

	got, err := p.Match(ctx, key)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, got.Status)
	require.Equal(t, "body { margin: 0 }", string(got.Body))
	require.Equal(t, "text/plain", got.Header.Get("Content-Type"))
	require.Equal(t, []string{"a", "b"}, got.Header.Values("X-Multi"))
}

func testMatchMissing(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	p, err := storage.Open(ctx, "site-static-v1")
	require.NoError(t, err)

	_, err = p.Match(ctx, Key(t, "https://example.org/missing"))
	require.True(t, errors.Is(err, cache.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testKeysInsertionOrder(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	p, err := storage.Open(ctx, "site-images-v1")
	require.NoError(t, err)

	urls := []string{
		"https://example.org/images/c.png",
		"https://example.org/images/a.png",
		"https://example.org/images/b.png",
	}
	for _, raw := range urls {
		require.NoError(t, p.Put(ctx, Key(t, raw), Body(raw)))
	}

	keys, err := p.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, len(urls))
	for i, raw := range urls {
		require.Equal(t, Key(t, raw), keys[i])
	}
}

func testRePutMovesToEnd(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	p, err := storage.Open(ctx, "site-dynamic-v1")
	require.NoError(t, err)

	first := Key(t, "https://example.org/")
	second := Key(t, "https://example.org/about.html")
	require.NoError(t, p.Put(ctx, first, Body("v1")))
	require.NoError(t, p.Put(ctx, second, Body("about")))
	require.NoError(t, p.Put(ctx, first, Body("v2")))

	keys, err := p.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []cache.Key{second, first}, keys)

	got, err := p.Match(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "v2", string(got.Body))
}

func testDeleteEntry(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	p, err := storage.Open(ctx, "site-static-v1")
	require.NoError(t, err)

	key := Key(t, "https://example.org/js/main.js")
	require.NoError(t, p.Put(ctx, key, Body("console.log(1)")))

	removed, err := p.Delete(ctx, key)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = p.Delete(ctx, key)
	require.NoError(t, err)
	require.False(t, removed)

	_, err = p.Match(ctx, key)
	require.ErrorIs(t, err, cache.ErrNotFound)
	keys, err := p.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func testPartitionLifecycle(t *testing.T, storage cache.Storage) {
	ctx := context.Background()

	exists, err := storage.Has(ctx, "site-static-v1")
	require.NoError(t, err)
	require.False(t, exists, "partitions must not exist before first open")

	for _, name := range []string{"site-static-v1", "site-external-v1", "site-static-v0"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"site-static-v1", "site-external-v1", "site-static-v0"}, names)

	p, err := storage.Open(ctx, "site-static-v0")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, Key(t, "https://example.org/old"), Body("old")))

	deleted, err := storage.Delete(ctx, "site-static-v0")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = storage.Delete(ctx, "site-static-v0")
	require.NoError(t, err)
	require.False(t, deleted)

	exists, err = storage.Has(ctx, "site-static-v0")
	require.NoError(t, err)
	require.False(t, exists)

	names, err = storage.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"site-static-v1", "site-external-v1"}, names)

	reopened, err := storage.Open(ctx, "site-static-v0")
	require.NoError(t, err)
	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys, "a deleted partition must come back empty")
}

func testPartitionsIsolated(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	a, err := storage.Open(ctx, "site-static-v1")
	require.NoError(t, err)
	b, err := storage.Open(ctx, "site-images-v1")
	require.NoError(t, err)

	key := Key(t, "https://example.org/images/logo.png")
	require.NoError(t, a.Put(ctx, key, Body("in-static")))

	_, err = b.Match(ctx, key)
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func testRejectsInvalidName(t *testing.T, storage cache.Storage) {
	ctx := context.Background()
	for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err := storage.Open(ctx, name)
		require.ErrorIs(t, err, cache.ErrInvalidPartition, "name %q", name)
	}
}
