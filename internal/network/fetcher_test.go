package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetcherReturnsAnyStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/html" {
			t.Errorf("accept header not forwarded: %q", r.Header.Get("Accept"))
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "sitecache/") {
			t.Errorf("unexpected user agent: %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Request-Id") != "" {
			t.Errorf("request id must not leak upstream")
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "missing page")
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/missing.html", nil)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("X-Request-ID", "abc")

	resp, err := NewFetcher(upstream.Client()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if resp.Status != http.StatusNotFound || string(resp.Body) != "missing page" {
		t.Fatalf("unexpected response: %d %q", resp.Status, resp.Body)
	}
	if resp.Header.Get("Connection") != "" {
		t.Fatalf("hop-by-hop headers must be stripped")
	}
}

func TestFetcherTransportError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, addr+"/", nil)
	if _, err := NewFetcher(nil).Fetch(context.Background(), req); err == nil {
		t.Fatalf("closed upstream should fail")
	}
}

func TestFetcherForwardsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodPost, upstream.URL+"/contact", strings.NewReader("name=ali"))
	resp, err := NewFetcher(upstream.Client()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if resp.Status != http.StatusCreated || string(resp.Body) != "name=ali" {
		t.Fatalf("unexpected response: %d %q", resp.Status, resp.Body)
	}
}

func TestFetcherRejectsRelativeURL(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/relative", nil)
	if _, err := NewFetcher(nil).Fetch(context.Background(), req); err == nil {
		t.Fatalf("relative url should be rejected")
	}
}
