package config

import (
	"errors"
	"testing"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = "boom"

[[Scope]]
Name = "khuddam"
Domain = "khuddam.local"
Origin = "https://khuddam.example"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsInvalidByteSize(t *testing.T) {
	cfg := `
StoragePath = "./data"
MaxPartitionSize = "lots"

[[Scope]]
Name = "khuddam"
Domain = "khuddam.local"
Origin = "https://khuddam.example"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效字节大小应失败")
	}
}

func TestLoadRejectsScopeLevelPort(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Scope]]
Name = "khuddam"
Domain = "khuddam.local"
Origin = "https://khuddam.example"
Port = 8080
`
	path := writeTempConfig(t, cfg)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Scope[khuddam].Port" {
		t.Fatalf("Scope 级端口应返回 FieldError, got %v", err)
	}
}

func TestLoadSQLiteDefaultsPath(t *testing.T) {
	cfg := `
StorageDriver = "sqlite"
StoragePath = "./data"

[[Scope]]
Name = "khuddam"
Domain = "khuddam.local"
Origin = "https://khuddam.example"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.SQLitePath == "" {
		t.Fatalf("sqlite 驱动应推导默认数据库路径")
	}
}
