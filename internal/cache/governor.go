package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBudget 是单个分区的默认字节预算（50 MiB）。
	DefaultBudget int64 = 50 * 1024 * 1024
	// evictionDivisor 对应超出预算时一次淘汰 1/5（20%）的 key，向上取整。
	evictionDivisor = 5
)

// Governor 在写入后按需裁剪分区：全量扫描正文计算总大小，超出预算时删除
// 枚举顺序最靠前的 20% key。枚举顺序即写入顺序，这里不追踪访问时间。
type Governor struct {
	storage Storage
	budget  int64
	logger  *logrus.Logger
}

// PartitionUsage 描述一次全量扫描的结果。
type PartitionUsage struct {
	Partition  string `json:"partition"`
	Keys       int    `json:"keys"`
	TotalBytes int64  `json:"total_bytes"`
	Budget     int64  `json:"budget"`
}

// EvictionReport 在 PartitionUsage 基础上记录被淘汰的 key。
type EvictionReport struct {
	PartitionUsage
	Evicted []Key `json:"evicted,omitempty"`
}

// NewGovernor 构造 Governor；budget <= 0 时使用 DefaultBudget。
func NewGovernor(storage Storage, budget int64, logger *logrus.Logger) *Governor {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Governor{storage: storage, budget: budget, logger: logger}
}

// Budget 返回生效的字节预算。
func (g *Governor) Budget() int64 {
	return g.budget
}

// Measure 打开分区并逐条读取正文，返回 key 列表与总字节数。
func (g *Governor) Measure(ctx context.Context, name string) (PartitionUsage, []Key, error) {
	usage := PartitionUsage{Partition: name, Budget: g.budget}

	partition, err := g.storage.Open(ctx, name)
	if err != nil {
		return usage, nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	keys, err := partition.Keys(ctx)
	if err != nil {
		return usage, nil, fmt.Errorf("list keys of %s: %w", name, err)
	}

	var total int64
	for _, key := range keys {
		resp, err := partition.Match(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// 扫描期间被并发删除。
				continue
			}
			return usage, nil, fmt.Errorf("measure %s: %w", key, err)
		}
		total += resp.Size()
	}

	usage.Keys = len(keys)
	usage.TotalBytes = total
	return usage, keys, nil
}

// Enforce 在分区超出预算时删除最旧的 20% key。测量与删除之间没有事务，
// 期间的并发写入可能被误删或导致裁剪不足，预算本身是软约束。
func (g *Governor) Enforce(ctx context.Context, name string) (EvictionReport, error) {
	usage, keys, err := g.Measure(ctx, name)
	report := EvictionReport{PartitionUsage: usage}
	if err != nil {
		return report, err
	}
	if usage.TotalBytes <= g.budget {
		return report, nil
	}

	count := EvictionCount(len(keys))
	if g.logger != nil {
		g.logger.WithFields(logrus.Fields{
			"action":    "govern",
			"partition": name,
			"size":      humanize.IBytes(uint64(usage.TotalBytes)),
			"budget":    humanize.IBytes(uint64(g.budget)),
			"keys":      len(keys),
			"evicting":  count,
		}).Info("partition_over_budget")
	}

	partition, err := g.storage.Open(ctx, name)
	if err != nil {
		return report, fmt.Errorf("open partition %s: %w", name, err)
	}

	var errs []error
	for _, key := range keys[:count] {
		if _, err := partition.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", key, err))
			continue
		}
		report.Evicted = append(report.Evicted, key)
	}
	return report, errors.Join(errs...)
}

// EvictionCount 返回 n 个 key 中需要淘汰的数量：ceil(n * 0.2)。
func EvictionCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + evictionDivisor - 1) / evictionDivisor
}
