package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/config"
	"github.com/khuddam/sitecache/internal/metrics"
	"github.com/khuddam/sitecache/internal/strategy"
	"github.com/khuddam/sitecache/internal/worker"
)

// ScopeDeps 汇总所有 Scope 共享的运行时依赖。
type ScopeDeps struct {
	Storage  cache.Storage
	Governor *cache.Governor
	Fetcher  strategy.Fetcher
	Tasks    strategy.Enqueuer
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
}

// ManifestFor 返回 Scope 的初始清单：配置了 ManifestPath 时读取文件，否则使用内置清单。
func ManifestFor(scope config.ScopeConfig) (*worker.Manifest, error) {
	if scope.ManifestPath != "" {
		return worker.LoadManifest(scope.ManifestPath)
	}
	m := worker.DefaultManifest()
	if scope.FallbackImage != "" {
		m.FallbackImage = scope.FallbackImage
	}
	return m, nil
}

func scopeFactory(route *ScopeRoute, deps ScopeDeps) worker.Factory {
	scope := route.Config
	return func(m *worker.Manifest) (*worker.Worker, error) {
		if m != nil && m.FallbackImage == "" && scope.FallbackImage != "" {
			copied := *m
			copied.FallbackImage = scope.FallbackImage
			m = &copied
		}
		return worker.New(worker.Options{
			Scope:    scope.Name,
			Origin:   route.OriginURL,
			Manifest: m,
			Version:  scope.CacheVersion,
			CDNHints: scope.CDNHints,
			Storage:  deps.Storage,
			Governor: deps.Governor,
			Fetcher:  deps.Fetcher,
			Tasks:    deps.Tasks,
			Logger:   deps.Logger,
			Metrics:  deps.Metrics,
		})
	}
}

// StartScopes 为每个 Scope 绑定 Controller 并执行首次安装/激活。安装失败的 Scope
// 仍会绑定 Controller（请求透传）；requireInstall 为 true 时任一失败即返回错误。
func StartScopes(ctx context.Context, registry *ScopeRegistry, deps ScopeDeps, requireInstall bool) error {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
		deps.Logger = logger
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, route := range registry.List() {
		controller := worker.NewController(route.Config.Name, scopeFactory(route, deps), logger)
		route.SetController(controller)

		g.Go(func() error {
			fields := logrus.Fields{"scope": route.Config.Name, "origin": route.OriginURL.String()}
			m, err := ManifestFor(route.Config)
			if err == nil {
				_, err = controller.Update(gctx, m)
			}
			if err != nil {
				logger.WithFields(fields).WithError(err).Warn("scope_install_failed")
				if requireInstall {
					return fmt.Errorf("scope %s: %w", route.Config.Name, err)
				}
				return nil
			}
			logger.WithFields(fields).Info("scope_ready")
			return nil
		})
	}
	return g.Wait()
}

// WatchScopes 为声明了 ManifestPath 的 Scope 启动清单监听，阻塞直到 ctx 结束。
func WatchScopes(ctx context.Context, registry *ScopeRegistry, logger *logrus.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, route := range registry.List() {
		controller := route.Controller()
		if route.Config.ManifestPath == "" || controller == nil {
			continue
		}
		watcher := worker.NewWatcher(route.Config.ManifestPath, controller, worker.DefaultDebounce, logger)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	return g.Wait()
}
