package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/config"
	"github.com/khuddam/sitecache/internal/logging"
	"github.com/khuddam/sitecache/internal/network/networktest"
	"github.com/khuddam/sitecache/internal/worker"
)

const bootstrapManifest = `version: v2
static:
  - /
  - /css/critical.css
external:
  - https://unpkg.com/aos@next/dist/aos.css
`

func newBootstrapRegistry(t *testing.T) *ScopeRegistry {
	t.Helper()
	manifestPath := filepath.Join(t.TempDir(), "khuddam.yaml")
	if err := os.WriteFile(manifestPath, []byte(bootstrapManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5080},
		Scopes: []config.ScopeConfig{{
			Name:          "khuddam",
			Domain:        "khuddam.local",
			Origin:        "https://khuddam.example",
			ManifestPath:  manifestPath,
			FallbackImage: "/images/image1.webp",
		}},
	}
	registry, err := NewScopeRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

func newBootstrapDeps(t *testing.T, fetcher *networktest.Fetcher) ScopeDeps {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return ScopeDeps{
		Storage:  store,
		Governor: cache.NewGovernor(store, 0, nil),
		Fetcher:  fetcher,
		Logger:   logging.Discard(),
	}
}

func TestStartScopesInstallsAndActivates(t *testing.T) {
	registry := newBootstrapRegistry(t)
	fetcher := networktest.New().
		Respond("https://khuddam.example/", http.StatusOK, "text/html", "<h1>home</h1>").
		Respond("https://khuddam.example/css/critical.css", http.StatusOK, "text/css", "body{}").
		Respond("https://unpkg.com/aos@next/dist/aos.css", http.StatusOK, "text/css", ".aos{}")
	deps := newBootstrapDeps(t, fetcher)

	if err := StartScopes(context.Background(), registry, deps, true); err != nil {
		t.Fatalf("start scopes: %v", err)
	}

	route, _ := registry.Get("khuddam")
	controller := route.Controller()
	if controller == nil {
		t.Fatalf("expected controller to be bound")
	}
	active, err := controller.Active()
	if err != nil {
		t.Fatalf("expected active worker: %v", err)
	}
	if active.Version() != "v2" {
		t.Fatalf("expected manifest version v2, got %s", active.Version())
	}
	if active.Manifest().FallbackImage != "/images/image1.webp" {
		t.Fatalf("expected scope fallback image, got %q", active.Manifest().FallbackImage)
	}

	p, err := deps.Storage.Open(context.Background(), "khuddam-static-v2")
	if err != nil {
		t.Fatalf("open static partition: %v", err)
	}
	keys, err := p.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 static entries, got %d", len(keys))
	}
}

func TestStartScopesInstallFailure(t *testing.T) {
	fetcher := networktest.New()
	fetcher.SetOffline(true)

	registry := newBootstrapRegistry(t)
	err := StartScopes(context.Background(), registry, newBootstrapDeps(t, fetcher), true)
	if !errors.Is(err, worker.ErrInstallFailed) {
		t.Fatalf("expected install failure, got %v", err)
	}

	registry = newBootstrapRegistry(t)
	if err := StartScopes(context.Background(), registry, newBootstrapDeps(t, fetcher), false); err != nil {
		t.Fatalf("expected tolerant startup, got %v", err)
	}
	route, _ := registry.Get("khuddam")
	if _, err := route.Controller().Active(); !errors.Is(err, worker.ErrNotActive) {
		t.Fatalf("expected no active worker, got %v", err)
	}
}

func TestManifestForDefaultsToBuiltin(t *testing.T) {
	m, err := ManifestFor(config.ScopeConfig{Name: "khuddam", FallbackImage: "/images/offline.png"})
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(m.Static) == 0 || len(m.External) == 0 {
		t.Fatalf("expected builtin lists")
	}
	if m.FallbackImage != "/images/offline.png" {
		t.Fatalf("expected scope fallback image, got %q", m.FallbackImage)
	}

	if _, err := ManifestFor(config.ScopeConfig{ManifestPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected missing manifest error")
	}
}
