// Package redisstore implements cache.Storage on top of Redis so several
// sitecache instances can share one set of partitions.
//
// Layout under the configured namespace:
//
//	<ns>:seq                   INCR counter for creation/write order
//	<ns>:partitions            ZSET partition name -> creation seq
//	<ns>:p:<name>:order        ZSET cache key -> write seq
//	<ns>:p:<name>:e:<digest>   HASH key/status/header/body
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/khuddam/sitecache/internal/cache"
)

// DefaultNamespace prefixes every key written by the store.
const DefaultNamespace = "sitecache"

// Store is a cache.Storage backed by a redis client.
type Store struct {
	client *redis.Client
	ns     string
}

// New wraps an existing client. An empty namespace falls back to DefaultNamespace.
func New(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{client: client, ns: namespace}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return New(client, DefaultNamespace), nil
}

func (s *Store) Open(ctx context.Context, name string) (cache.Partition, error) {
	if err := cache.ValidatePartitionName(name); err != nil {
		return nil, err
	}
	if err := s.register(ctx, name); err != nil {
		return nil, err
	}
	return &partition{store: s, name: name}, nil
}

func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := cache.ValidatePartitionName(name); err != nil {
		return false, err
	}
	err := s.client.ZScore(ctx, s.partitionsKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	keys, err := s.client.ZRange(ctx, s.orderKey(name), 0, -1).Result()
	if err != nil {
		return false, err
	}
	doomed := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		doomed = append(doomed, s.entryKey(name, cache.Key(key)))
	}
	doomed = append(doomed, s.orderKey(name))

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, doomed...)
		pipe.ZRem(ctx, s.partitionsKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete partition %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.partitionsKey(), 0, -1).Result()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) register(ctx context.Context, name string) error {
	exists, err := s.Has(ctx, name)
	if err != nil || exists {
		return err
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return err
	}
	return s.client.ZAddNX(ctx, s.partitionsKey(), redis.Z{Score: float64(seq), Member: name}).Err()
}

func (s *Store) seqKey() string {
	return s.ns + ":seq"
}

func (s *Store) partitionsKey() string {
	return s.ns + ":partitions"
}

func (s *Store) orderKey(name string) string {
	return s.ns + ":p:" + name + ":order"
}

func (s *Store) entryKey(name string, key cache.Key) string {
	return s.ns + ":p:" + name + ":e:" + key.Digest()
}

type partition struct {
	store *Store
	name  string
}

func (p *partition) Name() string {
	return p.name
}

func (p *partition) Match(ctx context.Context, key cache.Key) (*cache.Response, error) {
	fields, err := p.store.client.HGetAll(ctx, p.store.entryKey(p.name, key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || fields["key"] != string(key) {
		return nil, cache.ErrNotFound
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("decode status of %s: %w", key, err)
	}
	header := http.Header{}
	if raw := fields["header"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			return nil, fmt.Errorf("decode header of %s: %w", key, err)
		}
	}
	return &cache.Response{Status: status, Header: header, Body: []byte(fields["body"])}, nil
}

func (p *partition) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	// 分区可能已被删除，写入时重新登记。
	if err := p.store.register(ctx, p.name); err != nil {
		return err
	}
	seq, err := p.store.client.Incr(ctx, p.store.seqKey()).Result()
	if err != nil {
		return err
	}

	_, err = p.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.store.entryKey(p.name, key),
			"key", string(key),
			"status", strconv.Itoa(resp.Status),
			"header", string(header),
			"body", resp.Body,
		)
		pipe.ZAdd(ctx, p.store.orderKey(p.name), redis.Z{Score: float64(seq), Member: string(key)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (p *partition) Delete(ctx context.Context, key cache.Key) (bool, error) {
	var removed *redis.IntCmd
	_, err := p.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, p.store.entryKey(p.name, key))
		pipe.ZRem(ctx, p.store.orderKey(p.name), string(key))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (p *partition) Keys(ctx context.Context) ([]cache.Key, error) {
	members, err := p.store.client.ZRange(ctx, p.store.orderKey(p.name), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]cache.Key, len(members))
	for i, member := range members {
		keys[i] = cache.Key(member)
	}
	return keys, nil
}
