package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/khuddam/sitecache/internal/config"
	"github.com/khuddam/sitecache/internal/worker"
)

// ScopeRoute 将 Scope 配置与派生属性（解析后的源站 URL、worker 控制器）聚合在一起，
// 供路由/代理层直接复用。
type ScopeRoute struct {
	// Config 是 config.toml 中声明的 Scope 字段副本。
	Config config.ScopeConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// OriginURL 在构造 Registry 时提前解析完成。
	OriginURL *url.URL

	mu         sync.RWMutex
	controller *worker.Controller
}

// Controller 返回该 Scope 的 worker 控制器，启动完成前为空。
func (r *ScopeRoute) Controller() *worker.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

// SetController 绑定 worker 控制器。
func (r *ScopeRoute) SetController(c *worker.Controller) {
	r.mu.Lock()
	r.controller = c
	r.mu.Unlock()
}

// ScopeRegistry 提供 Host 到 ScopeRoute 的查询能力，所有 Scope 共享同一个监听端口。
type ScopeRegistry struct {
	routes  map[string]*ScopeRoute
	byName  map[string]*ScopeRoute
	ordered []*ScopeRoute
}

// NewScopeRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewScopeRegistry(cfg *config.Config) (*ScopeRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &ScopeRegistry{
		routes: make(map[string]*ScopeRoute, len(cfg.Scopes)),
		byName: make(map[string]*ScopeRoute, len(cfg.Scopes)),
	}

	for _, scope := range cfg.Scopes {
		normalizedHost := normalizeDomain(scope.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for scope %s", scope.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		originURL, err := url.Parse(scope.Origin)
		if err != nil || originURL.Host == "" {
			return nil, fmt.Errorf("invalid origin for scope %s: %s", scope.Name, scope.Origin)
		}

		route := &ScopeRoute{
			Config:     scope,
			ListenPort: cfg.Global.ListenPort,
			OriginURL:  originURL,
		}
		registry.routes[normalizedHost] = route
		registry.byName[scope.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 ScopeRoute。
func (r *ScopeRegistry) Lookup(host string) (*ScopeRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// LookupReferrer 根据 Origin 或 Referer 头中的页面地址查找 ScopeRoute。
func (r *ScopeRegistry) LookupReferrer(raw string) (*ScopeRoute, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	return r.Lookup(parsed.Host)
}

// Get 按名称查找 ScopeRoute。
func (r *ScopeRegistry) Get(name string) (*ScopeRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 按配置顺序返回全部 ScopeRoute，用于启动与诊断接口。
func (r *ScopeRegistry) List() []*ScopeRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]*ScopeRoute, len(r.ordered))
	copy(result, r.ordered)
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
