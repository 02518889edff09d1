package strategy

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
)

// NetworkFirst 优先请求上游。上游返回任何响应都直接交给调用方，状态码为 200
// 时在后台写入 dynamic 分区；上游不可达时依次查 dynamic 分区与其余认可分区。
func (e Env) NetworkFirst(ctx context.Context, req *http.Request) Result {
	key := cache.KeyForRequest(req)
	dynamic := e.Registry.Names().Dynamic

	resp, err := e.Fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.Status == http.StatusOK {
			e.store(dynamic, key, resp, false)
		}
		return Result{Response: resp, Source: SourceNetwork}
	}

	e.logger().WithFields(logrus.Fields{
		"scope": e.Scope,
		"key":   string(key),
		"error": err,
	}).Debug("network_unavailable")

	if result, ok := e.lookup(ctx, key, dynamic); ok {
		return result
	}
	return absent()
}
