package strategy

import (
	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/classify"
)

// Kind 标识策略。
type Kind string

const (
	NetworkFirst Kind = "network-first"
	CacheFirst   Kind = "cache-first"
)

// Plan 是选择器的输出。Fallback 为真时，上游失败会尝试兜底图片。
type Plan struct {
	Class     classify.Class
	Strategy  Kind
	Partition string
	Fallback  bool
}

// Select 将分类映射为策略与目标分区：
//
//	Document      → network-first, dynamic
//	Image         → cache-first,   images
//	ExternalAsset → cache-first,   external
//	StaticAsset   → cache-first,   static
func Select(class classify.Class, names cache.PartitionNames) Plan {
	switch class {
	case classify.Document:
		return Plan{Class: class, Strategy: NetworkFirst, Partition: names.Dynamic}
	case classify.Image:
		return Plan{Class: class, Strategy: CacheFirst, Partition: names.Images, Fallback: true}
	case classify.ExternalAsset:
		return Plan{Class: class, Strategy: CacheFirst, Partition: names.External}
	default:
		return Plan{Class: classify.StaticAsset, Strategy: CacheFirst, Partition: names.Static}
	}
}
