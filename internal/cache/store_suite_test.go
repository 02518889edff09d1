package cache_test

import (
	"testing"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/cache/cachetest"
)

func TestFileStoreContract(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Storage {
		store, err := cache.NewStore(t.TempDir())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		return store
	})
}
