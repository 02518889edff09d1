package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5080)

	req := httptest.NewRequest("GET", "http://khuddam.local/about.html?lang=en", nil)
	req.Host = "khuddam.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, hostHeader=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Sitecache-Host"))
	}

	if app.recorder.routeName != "khuddam" {
		t.Fatalf("expected khuddam route, got %s", app.recorder.routeName)
	}
	if app.recorder.target != "https://khuddam.example/about.html?lang=en" {
		t.Fatalf("unexpected target: %s", app.recorder.target)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterRoutesCrossOriginByReferer(t *testing.T) {
	app := newTestApp(t, 5080)

	req := httptest.NewRequest("GET", "http://fonts.googleapis.com/css2?family=Roboto", nil)
	req.Host = "fonts.googleapis.com"
	req.Header.Set("Referer", "http://khuddam.local/index.html")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if app.recorder.routeName != "khuddam" {
		t.Fatalf("expected khuddam route, got %s", app.recorder.routeName)
	}
	if app.recorder.target != "https://fonts.googleapis.com/css2?family=Roboto" {
		t.Fatalf("unexpected target: %s", app.recorder.target)
	}
}

func TestRouterCrossOriginHonoursForwardedProto(t *testing.T) {
	app := newTestApp(t, 5080)

	req := httptest.NewRequest("GET", "http://cdn.example.net/lib.js", nil)
	req.Host = "cdn.example.net"
	req.Header.Set("Origin", "http://khuddam.local")
	req.Header.Set("X-Forwarded-Proto", "http")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if app.recorder.target != "http://cdn.example.net/lib.js" {
		t.Fatalf("unexpected target: %s", app.recorder.target)
	}
}

func TestRouterReturns404WhenScopeUnknown(t *testing.T) {
	app := newTestApp(t, 5080)

	req := httptest.NewRequest("GET", "http://unknown.local/", nil)
	req.Host = "unknown.local"
	req.Header.Set("Referer", "http://elsewhere.local/")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Sitecache-Host") != "unknown.local" {
		t.Fatalf("expected X-Sitecache-Host header, got %q", resp.Header.Get("X-Sitecache-Host"))
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"scope_unmapped"`)) {
		t.Fatalf("expected scope_unmapped error, got %s", string(body))
	}
	if app.recorder.routeName != "" {
		t.Fatalf("proxy should not be called, got %s", app.recorder.routeName)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	registry := newTestRegistry(t, 5080)

	cases := map[string]AppOptions{
		"logger":   {Registry: registry, Proxy: &proxyRecorder{}, ListenPort: 5080},
		"registry": {Logger: logger, Proxy: &proxyRecorder{}, ListenPort: 5080},
		"proxy":    {Logger: logger, Registry: registry, ListenPort: 5080},
		"port":     {Logger: logger, Registry: registry, Proxy: &proxyRecorder{}},
	}
	for name, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

type testApp struct {
	*fiber.App
	recorder *proxyRecorder
}

func newTestRegistry(t *testing.T, port int) *ScopeRegistry {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort: port,
		},
		Scopes: []config.ScopeConfig{
			{
				Name:   "khuddam",
				Domain: "khuddam.local",
				Origin: "https://khuddam.example",
			},
		},
	}

	registry, err := NewScopeRegistry(cfg)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return registry
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   newTestRegistry(t, port),
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type proxyRecorder struct {
	routeName string
	target    string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *ScopeRoute) error {
	p.routeName = route.Config.Name
	if target, ok := TargetURL(c); ok {
		p.target = target.String()
	}
	return c.SendStatus(fiber.StatusNoContent)
}
