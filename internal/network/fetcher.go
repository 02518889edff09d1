package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/version"
)

// 仅在客户端与代理之间有意义、不应转发给上游的头部。
var requestOnlyHeaders = map[string]struct{}{
	"Accept-Encoding":   {},
	"X-Forwarded-Proto": {},
	"X-Forwarded-Host":  {},
	"X-Request-Id":      {},
}

// Fetcher 通过共享 http.Client 抓取上游资源并完整读取正文。
type Fetcher struct {
	client *http.Client
}

// NewFetcher 构造 Fetcher；client 为空时使用 NewUpstreamClient(nil)。
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	return &Fetcher{client: client}
}

// Fetch 以 req 的方法、URL 与头部发起请求。只要上游返回了响应（任意状态码）
// 就返回 Response；传输层失败或正文读取失败时返回 error。
func (f *Fetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request url required")
	}
	if req.URL.Scheme == "" || req.URL.Host == "" {
		return nil, fmt.Errorf("request url must be absolute: %s", req.URL)
	}

	var body io.Reader
	if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = req.Body
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	copyRequestHeaders(upstreamReq.Header, req.Header)
	if upstreamReq.Header.Get("User-Agent") == "" {
		upstreamReq.Header.Set("User-Agent", version.UserAgent())
	}
	if req.ContentLength > 0 {
		upstreamReq.ContentLength = req.ContentLength
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", req.URL, err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	// 正文已完整读入内存，长度由写回客户端时重新计算。
	header.Del("Content-Length")

	return &cache.Response{Status: resp.StatusCode, Header: header, Body: payload}, nil
}

// Get 抓取单个绝对 URL，用于预缓存。
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Request, *cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := f.Fetch(ctx, req)
	return req, resp, err
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		if _, skip := requestOnlyHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
