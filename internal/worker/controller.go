package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Factory 根据清单构造一个新的 worker 版本。
type Factory func(m *Manifest) (*Worker, error)

// Controller 持有一个作用域当前生效的 worker，并负责版本更替：新版本安装
// 失败时旧版本继续服务；安装成功则立即激活（skip waiting）并替换旧版本。
type Controller struct {
	scope   string
	factory Factory
	logger  *logrus.Logger

	updateMu sync.Mutex
	active   atomic.Pointer[Worker]
}

// NewController 构造尚无 worker 的控制器。
func NewController(scope string, factory Factory, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{scope: scope, factory: factory, logger: logger}
}

// Scope 返回作用域名称。
func (c *Controller) Scope() string {
	return c.scope
}

// Active 返回当前生效的 worker；尚未激活时返回 ErrNotActive。
func (c *Controller) Active() (*Worker, error) {
	w := c.active.Load()
	if w == nil {
		return nil, ErrNotActive
	}
	return w, nil
}

// Update 安装并激活 m 描述的新版本。并发调用串行执行。
func (c *Controller) Update(ctx context.Context, m *Manifest) (*Worker, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	next, err := c.factory(m)
	if err != nil {
		return nil, fmt.Errorf("build worker for %s: %w", c.scope, err)
	}

	previous := c.active.Load()
	fields := logrus.Fields{"scope": c.scope, "version": next.Version()}
	if previous != nil {
		fields["previous_version"] = previous.Version()
	}
	c.logger.WithFields(fields).Info("worker_update_start")

	if err := next.Install(ctx); err != nil {
		if previous != nil {
			c.logger.WithFields(fields).Warn("worker_update_rejected")
		}
		return nil, err
	}
	if err := next.Activate(ctx); err != nil {
		next.retire()
		return nil, err
	}

	c.active.Store(next)
	if previous != nil && previous != next {
		previous.retire()
	}
	c.logger.WithFields(fields).Info("worker_update_complete")
	return next, nil
}

// Fetch 交给当前生效的 worker 处理；没有生效的 worker 时透传，Err 为 ErrNotActive。
func (c *Controller) Fetch(ctx context.Context, ev Event) Outcome {
	w, err := c.Active()
	if err != nil {
		return Outcome{Passthrough: true, Err: err}
	}
	return w.Fetch(ctx, ev.Request)
}
