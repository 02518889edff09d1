package main

import (
	"context"
	"fmt"
	"time"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/cache/redisstore"
	"github.com/khuddam/sitecache/internal/cache/sqlitestore"
	"github.com/khuddam/sitecache/internal/config"
)

// redisDialTimeout 限制启动阶段探测 Redis 的等待时间。
const redisDialTimeout = 5 * time.Second

// openStorage 按 StorageDriver 选择分区存储后端，所有 Scope 共享同一实例。
func openStorage(ctx context.Context, cfg config.GlobalConfig) (cache.Storage, error) {
	switch cfg.StorageDriver {
	case "", config.StorageDriverFS:
		return cache.NewStore(cfg.StoragePath)
	case config.StorageDriverRedis:
		dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		defer cancel()
		return redisstore.Dial(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.StorageDriverSQLite:
		return sqlitestore.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
