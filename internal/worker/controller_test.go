package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/logging"
	"github.com/khuddam/sitecache/internal/network/networktest"
)

func newTestController(t *testing.T, store cache.Storage, fetcher *networktest.Fetcher) *Controller {
	t.Helper()
	origin, _ := url.Parse(testOrigin)
	logger := logging.Discard()
	return NewController("khuddam", func(m *Manifest) (*Worker, error) {
		return New(Options{
			Scope:    "khuddam",
			Origin:   origin,
			Manifest: m,
			Storage:  store,
			Fetcher:  fetcher,
			Logger:   logger,
		})
	}, logger)
}

func TestControllerWithoutWorker(t *testing.T) {
	c := newTestController(t, newTestStore(t), networktest.New())
	if _, err := c.Active(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	outcome := c.Fetch(context.Background(), Event{Kind: EventFetch, Request: httptest.NewRequest(http.MethodGet, testOrigin+"/", nil)})
	if !outcome.Passthrough || !errors.Is(outcome.Err, ErrNotActive) {
		t.Fatalf("fetch without worker should pass through: %+v", outcome)
	}
}

func TestControllerKeepsPreviousWorkerOnFailedInstall(t *testing.T) {
	store := newTestStore(t)
	v1 := testManifest("v1")
	fetcher := onlineFetcher(t, v1)
	c := newTestController(t, store, fetcher)
	ctx := context.Background()

	first, err := c.Update(ctx, v1)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	v2 := testManifest("v2")
	v2.Static = append(v2.Static, "/broken.css")
	fetcher.Respond(testOrigin+"/broken.css", http.StatusInternalServerError, "text/plain", "oops")
	if _, err := c.Update(ctx, v2); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}

	active, err := c.Active()
	if err != nil {
		t.Fatalf("active error: %v", err)
	}
	if active != first || active.Version() != "v1" || active.State() != StateActivated {
		t.Fatalf("v1 should keep serving after a failed update, got %s/%s", active.Version(), active.State())
	}
	if exists, _ := store.Has(ctx, "khuddam-static-v1"); !exists {
		t.Fatalf("v1 partitions must survive a failed update")
	}
}

func TestControllerReplacesWorkerAndCleansOldVersion(t *testing.T) {
	store := newTestStore(t)
	fetcher := onlineFetcher(t, testManifest("v1"))
	c := newTestController(t, store, fetcher)
	ctx := context.Background()

	first, err := c.Update(ctx, testManifest("v1"))
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	second, err := c.Update(ctx, testManifest("v2"))
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	active, _ := c.Active()
	if active != second || active.Version() != "v2" {
		t.Fatalf("v2 should be active, got %s", active.Version())
	}
	if first.State() != StateRedundant {
		t.Fatalf("replaced worker should be redundant, got %s", first.State())
	}
	names, err := store.Names(ctx)
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	for _, name := range names {
		if name == "khuddam-static-v1" || name == "khuddam-external-v1" {
			t.Fatalf("v1 partition %s should be deleted on activation of v2", name)
		}
	}
}
