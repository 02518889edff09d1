package cache

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func TestStorePutAndMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	partition, err := store.Open(ctx, "khuddam-static-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	key := testKey(t, "https://khuddam.example/index.html")
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	if err := partition.Put(ctx, key, &Response{Status: http.StatusOK, Header: header, Body: []byte("<html></html>")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	resp, err := partition.Match(ctx, key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(resp.Body) != "<html></html>" {
		t.Fatalf("cached payload mismatch: %s", string(resp.Body))
	}
	if resp.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Fatalf("content type mismatch: %s", resp.Header.Get("Content-Type"))
	}
}

func TestStoreMatchMissing(t *testing.T) {
	store := newTestStore(t)
	partition, err := store.Open(context.Background(), "khuddam-static-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	_, err = partition.Match(context.Background(), testKey(t, "https://khuddam.example/missing"))
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition, err := store.Open(ctx, "khuddam-images-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	key := testKey(t, "https://khuddam.example/images/gallery/")

	fp, ok := partition.(*filePartition)
	if !ok {
		t.Fatalf("unexpected partition type %T", partition)
	}
	if err := os.MkdirAll(fp.entryPath(key), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := partition.Match(ctx, key); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
	keys, err := partition.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("directories must not be listed as keys: %v", keys)
	}
}

func TestStoreSkipsTruncatedEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	partition, err := store.Open(ctx, "khuddam-static-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	key := testKey(t, "https://khuddam.example/js/main.js")
	if err := partition.Put(ctx, key, &Response{Status: http.StatusOK, Body: []byte("console.log('ok')")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	path := partition.(*filePartition).entryPath(key)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("truncate error: %v", err)
	}

	if _, err := partition.Match(ctx, key); err != ErrNotFound {
		t.Fatalf("truncated entry should be a miss, got %v", err)
	}
}

func TestStoreNamesIgnoreForeignDirectories(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "lost+found"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := store.Open(context.Background(), "khuddam-static-v1"); err != nil {
		t.Fatalf("open error: %v", err)
	}

	names, err := store.Names(context.Background())
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	if len(names) != 1 || names[0] != "khuddam-static-v1" {
		t.Fatalf("unexpected partition names: %v", names)
	}
}

func TestNewStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatalf("empty storage path should fail")
	}
}

// newTestStore returns a Storage backed by a temporary directory.
func newTestStore(t *testing.T) Storage {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func testKey(t *testing.T, raw string) Key {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return KeyFor(http.MethodGet, u)
}
