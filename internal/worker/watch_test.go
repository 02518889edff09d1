package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khuddam/sitecache/internal/logging"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	store := newTestStore(t)
	fetcher := onlineFetcher(t, testManifest("v1"))
	c := newTestController(t, store, fetcher)
	if _, err := c.Update(context.Background(), testManifest("v1")); err != nil {
		t.Fatalf("initial update: %v", err)
	}

	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte("version: v1\nstatic: [/]\n"), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	w := NewWatcher(path, c, 20*time.Millisecond, logging.Discard())
	w.updated = make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// 等待监听建立后再修改文件。
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("version: v2\nstatic: [/]\n"), 0o600); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}

	select {
	case err := <-w.updated:
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not reload the manifest")
	}

	active, err := c.Active()
	if err != nil || active.Version() != "v2" {
		t.Fatalf("expected v2 to be active after reload, got %v (%v)", active, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher returned error: %v", err)
	}
}

func TestWatcherRequiresPath(t *testing.T) {
	w := NewWatcher("", nil, 0, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("empty path should fail")
	}
}
