package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Storage 管理一组具名分区。Open 会按需创建分区，Has/Names 只做查询，不会创建。
type Storage interface {
	// Open 返回指定名称的分区，若不存在则创建。
	Open(ctx context.Context, name string) (Partition, error)

	// Has 报告分区是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个分区及其全部条目，返回分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 按创建顺序返回全部分区名称。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Partition 是一个持久化的 key → Response 存储。Keys 的返回顺序即写入顺序，
// 重复写入同一个 key 会把它移动到末尾。单次读写是原子的，跨操作不提供事务。
type Partition interface {
	Name() string

	// Match 返回 key 对应的响应；不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入（或覆盖）一个条目。
	Put(ctx context.Context, key Key, resp *Response) error

	// Delete 删除单个条目，返回条目此前是否存在。
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys 按写入顺序返回全部 key。
	Keys(ctx context.Context) ([]Key, error)
}

// Response 是一次被捕获的 HTTP 响应，写入分区后视为不可变。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone 深拷贝响应，便于在返回调用方的同时异步写入缓存。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
	}
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return clone
}

// Size 返回正文字节数，Governor 以此累计分区大小。
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Body))
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidPartition 表示分区名称不合法（为空或包含路径分隔符）。
	ErrInvalidPartition = errors.New("invalid partition name")
)

// ValidatePartitionName 拒绝无法安全映射到磁盘目录或 redis key 的名称。
func ValidatePartitionName(name string) error {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return ErrInvalidPartition
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ErrInvalidPartition
	}
	if strings.ContainsAny(name, "/\\:") {
		return ErrInvalidPartition
	}
	return nil
}
