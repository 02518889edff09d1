package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
)

// CacheFirst 命中缓存时直接返回且不访问网络；未命中时请求上游，200 响应立即
// 返回并在后台写入 partition 后执行预算裁剪，非 200 响应原样返回且不缓存。
// 上游不可达且 fallback 为真时返回兜底图片。
func (e Env) CacheFirst(ctx context.Context, req *http.Request, partition string, fallback bool) Result {
	key := cache.KeyForRequest(req)
	if result, ok := e.lookup(ctx, key, partition); ok {
		return result
	}

	resp, err := e.Fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.Status == http.StatusOK {
			e.store(partition, key, resp, true)
		}
		return Result{Response: resp, Source: SourceNetwork}
	}

	e.logger().WithFields(logrus.Fields{
		"scope":     e.Scope,
		"partition": partition,
		"key":       string(key),
		"error":     err,
	}).Debug("network_unavailable")

	if fallback {
		if result, ok := e.fallbackImage(ctx); ok {
			return result
		}
	}
	return absent()
}

func (e Env) fallbackImage(ctx context.Context) (Result, bool) {
	if e.FallbackImage == "" || e.Registry == nil {
		return absent(), false
	}
	static := e.Registry.Names().Static
	resp, partition, err := e.Registry.MatchAny(ctx, e.FallbackImage, static)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			e.logger().WithFields(logrus.Fields{
				"scope": e.Scope,
				"key":   string(e.FallbackImage),
				"error": err,
			}).Warn("fallback_match_failed")
		}
		return absent(), false
	}
	return Result{Response: resp, Source: SourceFallback, Partition: partition}, true
}
