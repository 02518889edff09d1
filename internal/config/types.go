package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 接受纯字节数或 "50MiB"、"200 MB" 这类可读写法。
type ByteSize int64

// UnmarshalText 通过 go-humanize 解析字节大小。
func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*b = 0
		return nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid byte size value: %s", raw)
	}
	*b = ByteSize(parsed)
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 输出 IEC 单位的可读形式，例如 "50 MiB"。
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

// 支持的存储驱动。
const (
	StorageDriverFS     = "fs"
	StorageDriverRedis  = "redis"
	StorageDriverSQLite = "sqlite"
)

// GlobalConfig 描述全局运行时行为，所有 Scope 共享同一份参数。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StorageDriver    string   `mapstructure:"StorageDriver"`
	StoragePath      string   `mapstructure:"StoragePath"`
	RedisAddr        string   `mapstructure:"RedisAddr"`
	RedisPassword    string   `mapstructure:"RedisPassword"`
	RedisDB          int      `mapstructure:"RedisDB"`
	SQLitePath       string   `mapstructure:"SQLitePath"`
	MaxPartitionSize ByteSize `mapstructure:"MaxPartitionSize"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	TaskWorkers      int      `mapstructure:"TaskWorkers"`
	TaskQueueSize    int      `mapstructure:"TaskQueueSize"`
	WatchManifests   bool     `mapstructure:"WatchManifests"`
	RequireInstall   bool     `mapstructure:"RequireInstall"`
}

// ScopeConfig 描述一个被托管的站点：Domain 是客户端访问的 Host，Origin 是真实源站。
type ScopeConfig struct {
	Name          string   `mapstructure:"Name"`
	Domain        string   `mapstructure:"Domain"`
	Origin        string   `mapstructure:"Origin"`
	CacheVersion  string   `mapstructure:"CacheVersion"`
	ManifestPath  string   `mapstructure:"ManifestPath"`
	FallbackImage string   `mapstructure:"FallbackImage"`
	CDNHints      []string `mapstructure:"CDNHints"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Scopes []ScopeConfig `mapstructure:"Scope"`
}

// ScopeNames 返回全部 Scope 名称，供启动日志输出。
func ScopeNames(scopes []ScopeConfig) []string {
	if len(scopes) == 0 {
		return nil
	}
	result := make([]string, len(scopes))
	for i, scope := range scopes {
		result[i] = fmt.Sprintf("%s:%s", scope.Name, scope.Domain)
	}
	return result
}
