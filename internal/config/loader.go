package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultCacheVersion 在 Scope 与清单都未声明版本时使用。
	DefaultCacheVersion = "v1"
	// DefaultFallbackImage 是图片离线兜底资源。
	DefaultFallbackImage = "/images/image1.webp"
	// DefaultMaxPartitionSize 是单个分区的字节预算。
	DefaultMaxPartitionSize = 50 * 1024 * 1024
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectScopeLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		byteSizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	baseDir := filepath.Dir(path)
	for i := range cfg.Scopes {
		applyScopeDefaults(&cfg.Scopes[i], baseDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.SQLitePath != "" {
		absSQLite, err := filepath.Abs(cfg.Global.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析 SQLite 路径: %w", err)
		}
		cfg.Global.SQLitePath = absSQLite
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", StorageDriverFS)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("MaxPartitionSize", DefaultMaxPartitionSize)
	v.SetDefault("UpstreamTimeout", 0)
	v.SetDefault("TaskWorkers", 4)
	v.SetDefault("TaskQueueSize", 256)
	v.SetDefault("WatchManifests", false)
	v.SetDefault("RequireInstall", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = StorageDriverFS
	}
	if g.MaxPartitionSize == 0 {
		g.MaxPartitionSize = DefaultMaxPartitionSize
	}
	if g.StorageDriver == StorageDriverSQLite && g.SQLitePath == "" {
		g.SQLitePath = filepath.Join(g.StoragePath, "sitecache.db")
	}
}

// applyScopeDefaults 填充版本与兜底图片，并把相对清单路径解析为相对配置文件目录。
func applyScopeDefaults(s *ScopeConfig, baseDir string) {
	s.Name = strings.TrimSpace(s.Name)
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	if strings.TrimSpace(s.CacheVersion) == "" {
		s.CacheVersion = DefaultCacheVersion
	}
	if strings.TrimSpace(s.FallbackImage) == "" {
		s.FallbackImage = DefaultFallbackImage
	}
	if s.ManifestPath != "" && !filepath.IsAbs(s.ManifestPath) {
		s.ManifestPath = filepath.Join(baseDir, s.ManifestPath)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return ByteSize(0), nil
			}
			parsed, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析字节大小: %s", v)
			}
			return ByteSize(parsed), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的字节大小类型: %T", v)
		}
	}
}

// rejectScopeLevelPorts 拒绝在 Scope 中声明端口，所有 Scope 共享全局 ListenPort。
func rejectScopeLevelPorts(v *viper.Viper) error {
	raw := v.Get("Scope")
	scopes, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range scopes {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for key := range m {
			if !strings.EqualFold(key, "Port") {
				continue
			}
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := m["Name"].(string); ok && rawName != "" {
				name = rawName
			} else if rawName, ok := m["name"].(string); ok && rawName != "" {
				name = rawName
			}
			return newFieldError(scopeField(name, "Port"), "不支持按 Scope 配置端口，请使用全局 ListenPort")
		}
	}

	return nil
}
