package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/classify"
	"github.com/khuddam/sitecache/internal/metrics"
	"github.com/khuddam/sitecache/internal/strategy"
)

var (
	// ErrNotActive 表示当前作用域尚无已激活的 worker。
	ErrNotActive = errors.New("worker not active")
	// ErrInstallFailed 表示预缓存失败，该版本不会被激活。
	ErrInstallFailed = errors.New("worker install failed")
)

// State 是 worker 的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// EventKind 标识生命周期事件。
type EventKind string

const (
	EventInstall  EventKind = "install"
	EventActivate EventKind = "activate"
	EventFetch    EventKind = "fetch"
)

// Event 是分发给处理函数的事件；只有 fetch 事件携带请求。
type Event struct {
	Kind    EventKind
	Request *http.Request
}

// Outcome 是处理函数的结果：fetch 事件产出响应或透传标记，install/activate
// 事件产出已执行的存储操作摘要。
type Outcome struct {
	Plan        strategy.Plan
	Result      strategy.Result
	Passthrough bool
	Stored      []string
	Deleted     []string
	Err         error
}

// HandlerFunc 处理单个事件，分区注册表作为显式参数传入。
type HandlerFunc func(ctx context.Context, ev Event, registry *cache.Registry) Outcome

// Options 描述构造一个 worker 版本所需的依赖。
type Options struct {
	Scope    string
	Origin   *url.URL
	Manifest *Manifest
	// Version 在清单未声明版本时使用。
	Version  string
	CDNHints []string

	Storage  cache.Storage
	Governor *cache.Governor
	Fetcher  strategy.Fetcher
	Tasks    strategy.Enqueuer
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
}

// Worker 是一个作用域的某个版本。
type Worker struct {
	scope      string
	version    string
	origin     *url.URL
	manifest   *Manifest
	registry   *cache.Registry
	classifier classify.Classifier
	fetcher    strategy.Fetcher
	env        strategy.Env
	handlers   map[EventKind]HandlerFunc
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	mu    sync.RWMutex
	state State
}

// New 构造处于 parsed 状态的 worker。
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin required")
	}
	manifest := opts.Manifest
	if manifest == nil {
		manifest = DefaultManifest()
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	version := manifest.ResolveVersion(opts.Version)
	names := cache.NamesFor(opts.Scope, version)
	registry := cache.NewRegistry(opts.Storage, names, opts.Scope)

	fallback, err := manifest.FallbackURL(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("resolve fallback image: %w", err)
	}
	var fallbackKey cache.Key
	if fallback != "" {
		u, _ := url.Parse(fallback)
		fallbackKey = cache.KeyFor(http.MethodGet, u)
	}

	w := &Worker{
		scope:      opts.Scope,
		version:    version,
		origin:     opts.Origin,
		manifest:   manifest,
		registry:   registry,
		classifier: classify.New(opts.Origin.Host, opts.CDNHints),
		fetcher:    opts.Fetcher,
		logger:     logger,
		metrics:    opts.Metrics,
		state:      StateParsed,
	}
	w.env = strategy.Env{
		Scope:         opts.Scope,
		Registry:      registry,
		Fetcher:       opts.Fetcher,
		Writer:        cache.NewWriter(registry, opts.Governor),
		Tasks:         opts.Tasks,
		Logger:        logger,
		Metrics:       opts.Metrics,
		FallbackImage: fallbackKey,
	}
	w.handlers = map[EventKind]HandlerFunc{
		EventInstall:  w.handleInstall,
		EventActivate: w.handleActivate,
		EventFetch:    w.handleFetch,
	}
	return w, nil
}

// Scope 返回作用域名称。
func (w *Worker) Scope() string { return w.scope }

// Version 返回生效的版本号。
func (w *Worker) Version() string { return w.version }

// Registry 返回该版本的分区注册表。
func (w *Worker) Registry() *cache.Registry { return w.registry }

// Manifest 返回该版本的预缓存清单。
func (w *Worker) Manifest() *Manifest { return w.manifest }

// State 返回当前状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// transition 仅在当前状态为 from 时切换到 to。
func (w *Worker) transition(from, to State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return false
	}
	w.state = to
	return true
}

// Dispatch 按事件类型查表调用处理函数，处理函数 panic 时转为错误结果。
func (w *Worker) Dispatch(ctx context.Context, ev Event) (outcome Outcome) {
	handler, ok := w.handlers[ev.Kind]
	if !ok {
		return Outcome{Err: fmt.Errorf("unsupported event %q", ev.Kind)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			w.logger.WithFields(logrus.Fields{
				"scope":   w.scope,
				"version": w.version,
				"event":   string(ev.Kind),
				"panic":   rec,
				"stack":   string(debug.Stack()),
			}).Error("worker_handler_panic")
			outcome = Outcome{Err: fmt.Errorf("%s handler panicked: %v", ev.Kind, rec)}
		}
	}()
	return handler(ctx, ev, w.registry)
}

// Install 执行预缓存。失败时 worker 进入 redundant 状态并返回 ErrInstallFailed。
func (w *Worker) Install(ctx context.Context) error {
	if !w.transition(StateParsed, StateInstalling) {
		return fmt.Errorf("install from state %s", w.State())
	}

	outcome := w.Dispatch(ctx, Event{Kind: EventInstall})
	w.metrics.ObserveInstall(w.scope, outcome.Err)
	if outcome.Err != nil {
		w.setState(StateRedundant)
		w.logger.WithFields(logrus.Fields{
			"scope":   w.scope,
			"version": w.version,
			"error":   outcome.Err,
		}).Error("install_failed")
		if errors.Is(outcome.Err, ErrInstallFailed) {
			return outcome.Err
		}
		return fmt.Errorf("%w: %v", ErrInstallFailed, outcome.Err)
	}

	w.setState(StateInstalled)
	w.logger.WithFields(logrus.Fields{
		"scope":   w.scope,
		"version": w.version,
		"stored":  len(outcome.Stored),
	}).Info("install_complete")
	return nil
}

// Activate 清理旧版本分区并开始接管请求。
func (w *Worker) Activate(ctx context.Context) error {
	if !w.transition(StateInstalled, StateActivating) {
		return fmt.Errorf("activate from state %s", w.State())
	}

	outcome := w.Dispatch(ctx, Event{Kind: EventActivate})
	w.metrics.ObservePartitionsDeleted(w.scope, len(outcome.Deleted))
	if outcome.Err != nil {
		// 清理失败不阻止激活，残留分区会在下次激活时再次清理。
		w.logger.WithFields(logrus.Fields{
			"scope":   w.scope,
			"version": w.version,
			"error":   outcome.Err,
		}).Warn("activate_cleanup_failed")
	}

	w.setState(StateActivated)
	w.logger.WithFields(logrus.Fields{
		"scope":   w.scope,
		"version": w.version,
		"deleted": outcome.Deleted,
	}).Info("activate_complete")
	return nil
}

// Fetch 处理一次拦截请求。worker 尚未激活时直接透传。
func (w *Worker) Fetch(ctx context.Context, req *http.Request) Outcome {
	if w.State() != StateActivated {
		return Outcome{Passthrough: true}
	}
	return w.Dispatch(ctx, Event{Kind: EventFetch, Request: req})
}

// retire 将被替换的 worker 标记为 redundant。
func (w *Worker) retire() {
	w.setState(StateRedundant)
}
