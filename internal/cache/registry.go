package cache

import (
	"context"
	"errors"
	"strings"
)

// Purpose 标识分区用途。
type Purpose string

const (
	PurposeStatic   Purpose = "static"
	PurposeDynamic  Purpose = "dynamic"
	PurposeExternal Purpose = "external"
	PurposeImages   Purpose = "images"
)

// PartitionNames 记录一个 worker 版本认可的四个分区名称。
type PartitionNames struct {
	Static   string
	Dynamic  string
	External string
	Images   string
}

// NamesFor 按 "<scope>-<purpose>-<version>" 生成分区名，scope 为空时省略前缀。
func NamesFor(scope, version string) PartitionNames {
	return PartitionNames{
		Static:   partitionName(scope, PurposeStatic, version),
		Dynamic:  partitionName(scope, PurposeDynamic, version),
		External: partitionName(scope, PurposeExternal, version),
		Images:   partitionName(scope, PurposeImages, version),
	}
}

func partitionName(scope string, purpose Purpose, version string) string {
	parts := make([]string, 0, 3)
	if scope != "" {
		parts = append(parts, scope)
	}
	parts = append(parts, string(purpose))
	if version != "" {
		parts = append(parts, version)
	}
	return strings.Join(parts, "-")
}

// All 返回 static、dynamic、external、images 顺序的名称列表。
func (n PartitionNames) All() []string {
	return []string{n.Static, n.Dynamic, n.External, n.Images}
}

// For 返回指定用途的分区名。
func (n PartitionNames) For(purpose Purpose) string {
	switch purpose {
	case PurposeStatic:
		return n.Static
	case PurposeDynamic:
		return n.Dynamic
	case PurposeExternal:
		return n.External
	case PurposeImages:
		return n.Images
	default:
		return ""
	}
}

// Recognized 报告 name 是否属于当前版本。
func (n PartitionNames) Recognized(name string) bool {
	for _, candidate := range n.All() {
		if candidate == name {
			return true
		}
	}
	return false
}

// Registry 把一个作用域认可的分区名称绑定到共享 Storage，作为显式依赖注入各个
// 事件处理函数，替代全局的 caches 查找。
type Registry struct {
	storage Storage
	names   PartitionNames
	owner   string
}

// NewRegistry 构造分区注册表。owner 是作用域前缀，只有 "<owner>-" 开头的分区
// 才归属当前作用域；owner 为空时存储中的全部分区都归属当前作用域。
func NewRegistry(storage Storage, names PartitionNames, owner string) *Registry {
	return &Registry{storage: storage, names: names, owner: owner}
}

// Storage 返回底层存储。
func (r *Registry) Storage() Storage {
	return r.storage
}

// Names 返回当前认可的分区名称。
func (r *Registry) Names() PartitionNames {
	return r.names
}

// Open 打开（必要时创建）分区。
func (r *Registry) Open(ctx context.Context, name string) (Partition, error) {
	return r.storage.Open(ctx, name)
}

// MatchIn 在单个分区中查找 key。分区不存在时按未命中处理，且不会创建分区。
func (r *Registry) MatchIn(ctx context.Context, name string, key Key) (*Response, error) {
	exists, err := r.storage.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	partition, err := r.storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return partition.Match(ctx, key)
}

// Match 依次在 names 中查找 key，返回首个命中的响应及其分区名。
// 全部未命中时返回 ErrNotFound；若途中出现存储错误且最终未命中，返回该错误。
func (r *Registry) Match(ctx context.Context, key Key, names ...string) (*Response, string, error) {
	var firstErr error
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		resp, err := r.MatchIn(ctx, name, key)
		switch {
		case err == nil:
			return resp, name, nil
		case errors.Is(err, ErrNotFound):
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return nil, "", firstErr
	}
	return nil, "", ErrNotFound
}

// MatchAny 先查 preferred，再按 static、dynamic、external、images 顺序查找
// 其余认可分区。
func (r *Registry) MatchAny(ctx context.Context, key Key, preferred string) (*Response, string, error) {
	return r.Match(ctx, key, append([]string{preferred}, r.names.All()...)...)
}

// Owned 按创建顺序返回归属当前作用域的分区。
func (r *Registry) Owned(ctx context.Context) ([]string, error) {
	names, err := r.storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	owned := make([]string, 0, len(names))
	for _, name := range names {
		if r.owns(name) {
			owned = append(owned, name)
		}
	}
	return owned, nil
}

// Stale 返回归属当前作用域但不再被认可的分区（旧版本残留）。
func (r *Registry) Stale(ctx context.Context) ([]string, error) {
	owned, err := r.Owned(ctx)
	if err != nil {
		return nil, err
	}
	stale := make([]string, 0, len(owned))
	for _, name := range owned {
		if !r.names.Recognized(name) {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// Delete 删除整个分区。
func (r *Registry) Delete(ctx context.Context, name string) (bool, error) {
	return r.storage.Delete(ctx, name)
}

func (r *Registry) owns(name string) bool {
	if r.owner == "" {
		return true
	}
	return strings.HasPrefix(name, r.owner+"-")
}
