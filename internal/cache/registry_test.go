package cache

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
)

func TestNamesFor(t *testing.T) {
	names := NamesFor("khuddam", "v1")
	want := []string{"khuddam-static-v1", "khuddam-dynamic-v1", "khuddam-external-v1", "khuddam-images-v1"}
	if !reflect.DeepEqual(names.All(), want) {
		t.Fatalf("unexpected names: %v", names.All())
	}
	if names.For(PurposeImages) != "khuddam-images-v1" {
		t.Fatalf("unexpected images partition: %s", names.For(PurposeImages))
	}

	bare := NamesFor("", "v2")
	if bare.Static != "static-v2" {
		t.Fatalf("scope prefix should be omitted, got %s", bare.Static)
	}
}

func TestRegistryMatchDoesNotCreatePartition(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry(store, NamesFor("", "v1"), "")
	ctx := context.Background()

	_, _, err := registry.Match(ctx, testKey(t, "https://khuddam.example/"), registry.Names().All()...)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	names, err := store.Names(ctx)
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("lookup must not create partitions: %v", names)
	}
}

func TestRegistryMatchAnyPrefersPartition(t *testing.T) {
	store := newTestStore(t)
	names := NamesFor("", "v1")
	registry := NewRegistry(store, names, "")
	ctx := context.Background()
	key := testKey(t, "https://khuddam.example/")

	mustPut(t, store, names.Static, key, "precached")
	resp, partition, err := registry.MatchAny(ctx, key, names.Dynamic)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if partition != names.Static || string(resp.Body) != "precached" {
		t.Fatalf("expected static hit, got %s %q", partition, resp.Body)
	}

	mustPut(t, store, names.Dynamic, key, "fresh")
	resp, partition, err = registry.MatchAny(ctx, key, names.Dynamic)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if partition != names.Dynamic || string(resp.Body) != "fresh" {
		t.Fatalf("preferred partition should win, got %s %q", partition, resp.Body)
	}
}

func TestRegistryStaleKeepsRecognizedAndForeign(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"khuddam-static-v1", "khuddam-external-v1", "khuddam-static-v0", "other-static-v0"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	registry := NewRegistry(store, NamesFor("khuddam", "v1"), "khuddam")
	owned, err := registry.Owned(ctx)
	if err != nil {
		t.Fatalf("owned error: %v", err)
	}
	if !reflect.DeepEqual(owned, []string{"khuddam-static-v1", "khuddam-external-v1", "khuddam-static-v0"}) {
		t.Fatalf("unexpected owned partitions: %v", owned)
	}

	stale, err := registry.Stale(ctx)
	if err != nil {
		t.Fatalf("stale error: %v", err)
	}
	if !reflect.DeepEqual(stale, []string{"khuddam-static-v0"}) {
		t.Fatalf("unexpected stale partitions: %v", stale)
	}
}

func TestRegistryStaleWithoutOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"static-v1", "external-v1", "stale-v0"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	registry := NewRegistry(store, PartitionNames{
		Static: "static-v1", Dynamic: "dynamic-v1", External: "external-v1", Images: "image-v1",
	}, "")
	stale, err := registry.Stale(ctx)
	if err != nil {
		t.Fatalf("stale error: %v", err)
	}
	if !reflect.DeepEqual(stale, []string{"stale-v0"}) {
		t.Fatalf("unexpected stale partitions: %v", stale)
	}
}

func mustPut(t *testing.T, store Storage, partition string, key Key, body string) {
	t.Helper()
	p, err := store.Open(context.Background(), partition)
	if err != nil {
		t.Fatalf("open %s: %v", partition, err)
	}
	if err := p.Put(context.Background(), key, &Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte(body)}); err != nil {
		t.Fatalf("put into %s: %v", partition, err)
	}
}
