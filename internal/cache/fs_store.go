package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	partitionMarker = ".partition"
	entrySuffix     = ".entry"
)

// NewStore 以 basePath 为根目录构建磁盘分区存储，整站复用一份实例。
//
// 磁盘布局：
//
//	<basePath>/<partition>/.partition        # 分区元数据（创建序号）
//	<basePath>/<partition>/<sha1(key)>.entry # 首行 JSON 元数据 + 正文
func NewStore(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入；stamp 保证写入序号单调递增，
// Keys 依此还原写入顺序。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock

	stampMu   sync.Mutex
	lastStamp int64
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type partitionMeta struct {
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

type entryMeta struct {
	Key    Key         `json:"key"`
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Size   int64       `json:"size"`
	Stored int64       `json:"stored"`
}

func (s *fileStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidatePartitionName(name); err != nil {
		return nil, err
	}
	if err := s.ensurePartition(ctx, name); err != nil {
		return nil, err
	}
	return &filePartition{store: s, name: name}, nil
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidatePartitionName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.partitionDir(name), partitionMarker))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	unlock := s.lockEntry(partitionLockKey(name))
	defer unlock()

	if err := os.RemoveAll(s.partitionDir(name)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	metas := make([]partitionMeta, 0, len(dirs))
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, dir.Name(), partitionMarker))
		if err != nil {
			// 没有元数据的目录不是分区（可能是正在删除的残留）。
			continue
		}
		var meta partitionMeta
		if err := json.Unmarshal(data, &meta); err != nil || meta.Name != dir.Name() {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Created == metas[j].Created {
			return metas[i].Name < metas[j].Name
		}
		return metas[i].Created < metas[j].Created
	})

	names := make([]string, len(metas))
	for i, meta := range metas {
		names[i] = meta.Name
	}
	return names, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) ensurePartition(ctx context.Context, name string) error {
	dir := s.partitionDir(name)
	marker := filepath.Join(dir, partitionMarker)

	unlock := s.lockEntry(partitionLockKey(name))
	defer unlock()

	if _, err := os.Stat(marker); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	data, err := json.Marshal(partitionMeta{Name: name, Created: s.nextStamp()})
	if err != nil {
		return err
	}
	_, err = writeFileAtomic(ctx, marker, bytes.NewReader(data))
	return err
}

func (s *fileStore) partitionDir(name string) string {
	return filepath.Join(s.basePath, name)
}

// nextStamp 返回严格递增的纳秒序号，同一纳秒内的多次写入依次 +1。
func (s *fileStore) nextStamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	now := time.Now().UnixNano()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func partitionLockKey(name string) string {
	return "partition::" + name
}

// filePartition 是 fileStore 中单个分区的视图，本身不持有状态。
type filePartition struct {
	store *fileStore
	name  string
}

func (p *filePartition) Name() string {
	return p.name
}

func (p *filePartition) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	reader := bufio.NewReader(f)
	meta, err := readEntryMeta(reader)
	if err != nil {
		return nil, err
	}
	if meta.Key != key {
		return nil, ErrNotFound
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) != meta.Size {
		// 正文长度与元数据不符，按未命中处理。
		return nil, ErrNotFound
	}

	header := meta.Header
	if header == nil {
		header = http.Header{}
	}
	return &Response{Status: meta.Status, Header: header, Body: body}, nil
}

func (p *filePartition) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	unlock := p.store.lockEntry(p.lockKey(key))
	defer unlock()

	// 分区可能在两次操作之间被删除，写入时重新登记。
	if err := p.store.ensurePartition(ctx, p.name); err != nil {
		return err
	}

	meta := entryMeta{
		Key:    key,
		Status: resp.Status,
		Header: resp.Header,
		Size:   resp.Size(),
		Stored: p.store.nextStamp(),
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	_, err = writeFileAtomic(ctx, p.entryPath(key), io.MultiReader(bytes.NewReader(line), bytes.NewReader(resp.Body)))
	return err
}

func (p *filePartition) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock := p.store.lockEntry(p.lockKey(key))
	defer unlock()

	if err := os.Remove(p.entryPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *filePartition) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(p.store.partitionDir(p.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	metas := make([]entryMeta, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), entrySuffix) {
			continue
		}
		meta, err := readEntryMetaFile(filepath.Join(p.store.partitionDir(p.name), file.Name()))
		if err != nil {
			// 枚举期间被删除的条目直接跳过。
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Stored == metas[j].Stored {
			return metas[i].Key < metas[j].Key
		}
		return metas[i].Stored < metas[j].Stored
	})

	keys := make([]Key, len(metas))
	for i, meta := range metas {
		keys[i] = meta.Key
	}
	return keys, nil
}

func (p *filePartition) entryPath(key Key) string {
	return filepath.Join(p.store.partitionDir(p.name), key.Digest()+entrySuffix)
}

func (p *filePartition) lockKey(key Key) string {
	return p.name + "::" + string(key)
}

func readEntryMetaFile(path string) (entryMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return entryMeta{}, err
	}
	defer f.Close()
	return readEntryMeta(bufio.NewReader(f))
}

func readEntryMeta(reader *bufio.Reader) (entryMeta, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return entryMeta{}, fmt.Errorf("read entry metadata: %w", err)
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("decode entry metadata: %w", err)
	}
	return meta, nil
}

// writeFileAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeFileAtomic(ctx context.Context, target string, body io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
