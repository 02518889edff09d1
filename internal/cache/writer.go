package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrStoreUnavailable 表示当前 Writer 未注入分区注册表。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Writer 组合"写入分区 → 按需执行预算裁剪"两个步骤，供策略的后台任务复用。
type Writer struct {
	registry *Registry
	governor *Governor
}

// NewWriter 构造 Writer；governor 可以为空，此时 Put 不做裁剪。
func NewWriter(registry *Registry, governor *Governor) Writer {
	return Writer{registry: registry, governor: governor}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.registry != nil
}

// Put 将响应副本写入分区。govern 为 true 且配置了 Governor 时，写入成功后
// 立即对该分区执行一次 Enforce，并返回其报告。
func (w Writer) Put(ctx context.Context, partition string, key Key, resp *Response, govern bool) (*EvictionReport, error) {
	if w.registry == nil {
		return nil, ErrStoreUnavailable
	}
	p, err := w.registry.Open(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", partition, err)
	}
	if err := p.Put(ctx, key, resp); err != nil {
		return nil, fmt.Errorf("put %s into %s: %w", key, partition, err)
	}
	if !govern || w.governor == nil {
		return nil, nil
	}
	report, err := w.governor.Enforce(ctx, partition)
	return &report, err
}
