package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce 合并编辑器保存时的连续写事件。
const DefaultDebounce = 500 * time.Millisecond

// Watcher 监听清单文件，文件变化时重新加载并触发 Controller.Update，
// 对应浏览器在脚本变化后重新安装 worker。
type Watcher struct {
	path       string
	controller *Controller
	debounce   time.Duration
	logger     *logrus.Logger

	// updated 在每次更新尝试结束后收到结果，供测试同步。
	updated chan error
}

// NewWatcher 构造监听器；debounce <= 0 时使用 DefaultDebounce。
func NewWatcher(path string, controller *Controller, debounce time.Duration, logger *logrus.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{path: path, controller: controller, debounce: debounce, logger: logger}
}

// Run 阻塞直到 ctx 结束。监听所在目录而非文件本身，以兼容"写临时文件再 rename"的保存方式。
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		return errors.New("manifest path required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			pending = timer.C
		case <-pending:
			pending = nil
			w.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithFields(logrus.Fields{
				"scope": w.controller.Scope(),
				"path":  w.path,
				"error": err,
			}).Warn("manifest_watch_error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	fields := logrus.Fields{"scope": w.controller.Scope(), "path": w.path}

	m, err := LoadManifest(w.path)
	if err == nil {
		_, err = w.controller.Update(ctx, m)
	}
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("manifest_reload_failed")
	} else {
		w.logger.WithFields(fields).Info("manifest_reloaded")
	}
	if w.updated != nil {
		select {
		case w.updated <- err:
		default:
		}
	}
}
