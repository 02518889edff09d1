package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	StorageDriverFS:     {},
	StorageDriverRedis:  {},
	StorageDriverSQLite: {},
}

const supportedStorageDriverList = "fs|redis|sqlite"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	switch g.StorageDriver {
	case StorageDriverFS:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case StorageDriverRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 驱动必须配置地址")
		}
		if g.RedisDB < 0 {
			return newFieldError("Global.RedisDB", "不能为负数")
		}
	case StorageDriverSQLite:
		if g.SQLitePath == "" && g.StoragePath == "" {
			return newFieldError("Global.SQLitePath", "sqlite 驱动必须配置路径")
		}
	}
	if g.MaxPartitionSize <= 0 {
		return newFieldError("Global.MaxPartitionSize", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.TaskWorkers < 0 {
		return newFieldError("Global.TaskWorkers", "不能为负数")
	}
	if g.TaskQueueSize < 0 {
		return newFieldError("Global.TaskQueueSize", "不能为负数")
	}

	if len(c.Scopes) == 0 {
		return errors.New("至少需要配置一个 Scope")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Scopes {
		scope := &c.Scopes[i]
		if scope.Name == "" {
			return newFieldError("Scope[].Name", "不能为空")
		}
		if err := validateScopeName(scope.Name); err != nil {
			return newFieldError(scopeField(scope.Name, "Name"), err.Error())
		}
		if _, exists := seenNames[scope.Name]; exists {
			return newFieldError(scopeField(scope.Name, "Name"), "重复")
		}
		seenNames[scope.Name] = struct{}{}

		if err := validateDomain(scope.Domain); err != nil {
			return fmt.Errorf("%s: %w", scopeField(scope.Name, "Domain"), err)
		}
		if _, exists := seenDomains[scope.Domain]; exists {
			return newFieldError(scopeField(scope.Name, "Domain"), "与其它 Scope 重复")
		}
		seenDomains[scope.Domain] = struct{}{}

		if err := validateOrigin(scope.Origin); err != nil {
			return fmt.Errorf("%s: %w", scopeField(scope.Name, "Origin"), err)
		}
		if err := validateVersion(scope.CacheVersion); err != nil {
			return newFieldError(scopeField(scope.Name, "CacheVersion"), err.Error())
		}
		if scope.FallbackImage != "" && !strings.HasPrefix(scope.FallbackImage, "/") {
			return newFieldError(scopeField(scope.Name, "FallbackImage"), "必须是以 / 开头的同源路径")
		}
	}

	return nil
}

// validateScopeName 限制为小写字母、数字与下划线，分区归属依赖 "<scope>-" 前缀，
// 名称中出现 '-' 会让一个 Scope 误认领另一个 Scope 的分区。
func validateScopeName(name string) error {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("仅允许小写字母、数字与下划线: %q", name)
		}
	}
	return nil
}

func validateVersion(version string) error {
	if version == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(version, "/\\: ") {
		return fmt.Errorf("包含非法字符: %q", version)
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不应包含路径: %s", raw)
	}
	return nil
}

// OriginURL 返回解析后的源站地址（假定 Validate 已通过）。
func (s ScopeConfig) OriginURL() *url.URL {
	parsed, err := url.Parse(s.Origin)
	if err != nil {
		return nil
	}
	return parsed
}
