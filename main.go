package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/config"
	"github.com/khuddam/sitecache/internal/logging"
	"github.com/khuddam/sitecache/internal/metrics"
	"github.com/khuddam/sitecache/internal/network"
	"github.com/khuddam/sitecache/internal/proxy"
	"github.com/khuddam/sitecache/internal/server"
	"github.com/khuddam/sitecache/internal/server/routes"
	"github.com/khuddam/sitecache/internal/tasks"
	"github.com/khuddam/sitecache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["scopes"] = config.ScopeNames(cfg.Scopes)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewScopeRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Scope 注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → ScopeRegistry → 分区存储 → 后台任务队列 → worker 安装/激活 → Fiber server，
	// 所有 Scope 共享同一份存储、队列与上游连接池。
	store, err := openStorage(ctx, cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	m := metrics.New()
	queue := tasks.New(tasks.Options{
		Workers:   cfg.Global.TaskWorkers,
		Size:      cfg.Global.TaskQueueSize,
		Logger:    logger,
		OnFailure: func(string, error) { m.TaskFailed() },
		OnDrop:    func(string) { m.TaskDropped() },
	})
	defer queue.Close()

	fetcher := network.NewFetcher(network.NewUpstreamClient(cfg))
	governor := cache.NewGovernor(store, cfg.Global.MaxPartitionSize.Int64(), logger)

	deps := server.ScopeDeps{
		Storage:  store,
		Governor: governor,
		Fetcher:  fetcher,
		Tasks:    queue,
		Logger:   logger,
		Metrics:  m,
	}
	if err := server.StartScopes(ctx, registry, deps, cfg.Global.RequireInstall); err != nil {
		fmt.Fprintf(stdErr, "worker 安装失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["scopes"] = config.ScopeNames(cfg.Scopes)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["partition_budget"] = cfg.Global.MaxPartitionSize.String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if cfg.Global.WatchManifests {
		go func() {
			if err := server.WatchScopes(ctx, registry, logger); err != nil {
				logger.WithError(err).Warn("manifest_watch_stopped")
			}
		}()
	}

	handler := proxy.NewHandler(fetcher, logger)
	if err := startHTTPServer(ctx, cfg, registry, handler, governor, m, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("sitecache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SITECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SITECACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func buildApp(
	cfg *config.Config,
	registry *server.ScopeRegistry,
	proxyHandler server.ProxyHandler,
	governor *cache.Governor,
	m *metrics.Metrics,
	logger *logrus.Logger,
) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterScopeRoutes(app, registry, governor)
	routes.RegisterMetricsRoute(app, m)
	return app, nil
}

func startHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	registry *server.ScopeRegistry,
	proxyHandler server.ProxyHandler,
	governor *cache.Governor,
	m *metrics.Metrics,
	logger *logrus.Logger,
) error {
	app, err := buildApp(cfg, registry, proxyHandler, governor, m, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("Fiber 服务关闭")
		if err := app.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
