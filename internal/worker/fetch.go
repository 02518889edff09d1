package worker

import (
	"context"
	"time"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/classify"
	"github.com/khuddam/sitecache/internal/strategy"
)

// handleFetch 分类 → 选择策略与分区 → 执行策略。非 GET 与扩展协议请求透传。
func (w *Worker) handleFetch(ctx context.Context, ev Event, registry *cache.Registry) Outcome {
	req := ev.Request
	if !classify.Eligible(req) {
		return Outcome{Passthrough: true}
	}

	start := time.Now()
	plan := strategy.Select(w.classifier.Classify(req), registry.Names())
	env := w.env
	env.Registry = registry
	result := env.Run(ctx, plan, req)
	w.metrics.ObserveFetch(w.scope, string(plan.Class), string(plan.Strategy), string(result.Source), time.Since(start))
	return Outcome{Plan: plan, Result: result}
}
