// Package networktest provides an in-memory Fetcher for tests that need to
// count upstream calls or simulate an offline network.
package networktest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/khuddam/sitecache/internal/cache"
)

// ErrOffline is returned by Fetcher while Offline is set.
var ErrOffline = errors.New("network unreachable")

// Fetcher serves canned responses keyed by absolute URL.
type Fetcher struct {
	mu        sync.Mutex
	responses map[string]*cache.Response
	failures  map[string]error
	offline   bool
	calls     map[string]int
}

// New returns an online Fetcher with no routes; unknown URLs answer 404.
func New() *Fetcher {
	return &Fetcher{
		responses: make(map[string]*cache.Response),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Respond registers a response for rawURL.
func (f *Fetcher) Respond(rawURL string, status int, contentType, body string) *Fetcher {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	f.mu.Lock()
	f.responses[rawURL] = &cache.Response{Status: status, Header: header, Body: []byte(body)}
	f.mu.Unlock()
	return f
}

// Fail makes requests for rawURL return err at the transport level.
func (f *Fetcher) Fail(rawURL string, err error) *Fetcher {
	f.mu.Lock()
	f.failures[rawURL] = err
	f.mu.Unlock()
	return f
}

// SetOffline toggles a global transport failure.
func (f *Fetcher) SetOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

// Calls returns how many times rawURL was fetched.
func (f *Fetcher) Calls(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

// Total returns the number of fetches across all URLs.
func (f *Fetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Fetch implements the strategy and worker fetcher contract.
func (f *Fetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rawURL := req.URL.String()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if f.offline {
		return nil, ErrOffline
	}
	if err, ok := f.failures[rawURL]; ok {
		return nil, err
	}
	if resp, ok := f.responses[rawURL]; ok {
		return resp.Clone(), nil
	}
	return &cache.Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found")}, nil
}
