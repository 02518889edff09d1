// Package strategy 实现网络优先与缓存优先两种取数策略，以及按请求分类选择
// 策略和目标分区的选择器。策略只返回 Result，不返回错误：上游失败走兜底，
// 存储失败记录日志后吞掉，全部落空时返回 Response 为空的 Result。
package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/metrics"
	"github.com/khuddam/sitecache/internal/tasks"
)

// Source 描述响应来自哪里。
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
	SourceAbsent   Source = "absent"
)

// Result 是一次策略执行的结果。Response 为空表示离线且无缓存可用。
type Result struct {
	Response  *cache.Response
	Source    Source
	Partition string
}

// Absent 报告结果是否没有可用响应。
func (r Result) Absent() bool {
	return r.Response == nil
}

func absent() Result {
	return Result{Source: SourceAbsent}
}

// Fetcher 抓取上游资源；上游返回任意状态码都算成功，只有传输失败才返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// Enqueuer 接收后台任务，tasks.Queue 是其实现。
type Enqueuer interface {
	Enqueue(name string, fn tasks.Func) error
}

// Env 汇集策略执行所需的依赖，由 worker 在安装时构造。
type Env struct {
	Scope    string
	Registry *cache.Registry
	Fetcher  Fetcher
	Writer   cache.Writer
	// Tasks 为空时写缓存任务在当前协程内同步执行。
	Tasks   Enqueuer
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	// FallbackImage 是图片离线兜底资源的 Key。
	FallbackImage cache.Key
}

// Run 按 plan 执行对应策略。
func (e Env) Run(ctx context.Context, plan Plan, req *http.Request) Result {
	switch plan.Strategy {
	case NetworkFirst:
		return e.NetworkFirst(ctx, req)
	default:
		return e.CacheFirst(ctx, req, plan.Partition, plan.Fallback)
	}
}

// lookup 先查 preferred 分区，再查其余认可分区；存储错误按未命中处理。
func (e Env) lookup(ctx context.Context, key cache.Key, preferred string) (Result, bool) {
	if e.Registry == nil {
		return absent(), false
	}
	resp, partition, err := e.Registry.MatchAny(ctx, key, preferred)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			e.logger().WithFields(logrus.Fields{
				"scope":     e.Scope,
				"partition": preferred,
				"key":       string(key),
				"error":     err,
			}).Warn("cache_match_failed")
		}
		return absent(), false
	}
	return Result{Response: resp, Source: SourceCache, Partition: partition}, true
}

// store 把响应副本写入分区。写入与裁剪在后台执行，调用方不等待。
func (e Env) store(partition string, key cache.Key, resp *cache.Response, govern bool) {
	if !e.Writer.Enabled() {
		return
	}
	clone := resp.Clone()
	job := func(ctx context.Context) error {
		report, err := e.Writer.Put(ctx, partition, key, clone, govern)
		if report != nil {
			e.Metrics.ObserveGovern(partition, report.TotalBytes, len(report.Evicted))
			if len(report.Evicted) > 0 {
				e.logger().WithFields(logrus.Fields{
					"scope":     e.Scope,
					"partition": partition,
					"evicted":   len(report.Evicted),
				}).Info("partition_evicted")
			}
		}
		return err
	}

	if e.Tasks == nil {
		if err := job(context.Background()); err != nil {
			e.logger().WithFields(logrus.Fields{
				"scope":     e.Scope,
				"partition": partition,
				"error":     err,
			}).Warn("cache_put_failed")
		}
		return
	}
	// 队列已满时任务被丢弃，队列自身会记录日志。
	_ = e.Tasks.Enqueue("store:"+partition, job)
}

func (e Env) logger() *logrus.Logger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}
