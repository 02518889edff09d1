package server

import (
	"testing"

	"github.com/khuddam/sitecache/internal/config"
)

func TestScopeRegistryLookupByHost(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5080},
		Scopes: []config.ScopeConfig{
			{Name: "khuddam", Domain: "khuddam.local", Origin: "https://khuddam.example"},
			{Name: "docs", Domain: "Docs.Local.", Origin: "http://127.0.0.1:9000"},
		},
	}

	registry, err := NewScopeRegistry(cfg)
	if err != nil {
		t.Fatalf("registry build failed: %v", err)
	}

	route, ok := registry.Lookup("khuddam.local:5080")
	if !ok {
		t.Fatalf("expected khuddam route")
	}
	if route.OriginURL.Host != "khuddam.example" {
		t.Fatalf("unexpected origin host: %s", route.OriginURL.Host)
	}
	if route.ListenPort != 5080 {
		t.Fatalf("expected listen port 5080, got %d", route.ListenPort)
	}

	if _, ok := registry.Lookup("DOCS.local"); !ok {
		t.Fatalf("expected case-insensitive lookup to succeed")
	}
	if _, ok := registry.Lookup("missing.local"); ok {
		t.Fatalf("expected missing host lookup to fail")
	}

	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes, got %d", got)
	}
	if registry.List()[0].Config.Name != "khuddam" {
		t.Fatalf("List should keep config order")
	}
	if _, ok := registry.Get("docs"); !ok {
		t.Fatalf("expected lookup by name to succeed")
	}
}

func TestScopeRegistryLookupReferrer(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5080},
		Scopes: []config.ScopeConfig{
			{Name: "khuddam", Domain: "khuddam.local", Origin: "https://khuddam.example"},
		},
	}
	registry, err := NewScopeRegistry(cfg)
	if err != nil {
		t.Fatalf("registry build failed: %v", err)
	}

	if route, ok := registry.LookupReferrer("http://khuddam.local:5080/index.html"); !ok || route.Config.Name != "khuddam" {
		t.Fatalf("expected referer lookup to resolve khuddam")
	}
	for _, raw := range []string{"", "null", "/relative", "http://other.local/"} {
		if _, ok := registry.LookupReferrer(raw); ok {
			t.Fatalf("expected %q to be unmapped", raw)
		}
	}
}

func TestScopeRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5080},
		Scopes: []config.ScopeConfig{
			{Name: "a", Domain: "site.local", Origin: "https://a.example"},
			{Name: "b", Domain: "SITE.local", Origin: "https://b.example"},
		},
	}
	if _, err := NewScopeRegistry(cfg); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}

func TestScopeRouteController(t *testing.T) {
	route := &ScopeRoute{}
	if route.Controller() != nil {
		t.Fatalf("expected nil controller before bootstrap")
	}
}
