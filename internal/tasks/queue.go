// Package tasks 提供后台任务队列：策略在返回响应后把"写缓存 + 裁剪"交给队列，
// 调用方不等待其完成，任务失败只记录日志，不会回传给请求方。
package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull 表示队列已满，任务被丢弃。
var ErrQueueFull = errors.New("task queue full")

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("task queue closed")

const (
	defaultWorkers = 4
	defaultSize    = 256
)

// Func 是一个后台任务。ctx 与发起请求无关，请求结束后任务仍会执行。
type Func func(ctx context.Context) error

// Options 控制队列规模与失败回调。
type Options struct {
	Workers int
	Size    int
	Logger  *logrus.Logger
	// OnFailure 在任务返回错误或 panic 时调用，用于计数。
	OnFailure func(name string, err error)
	// OnDrop 在队列已满丢弃任务时调用。
	OnDrop func(name string)
}

type task struct {
	name string
	fn   Func
}

// Queue 是有界的后台任务队列。
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc

	tasks   chan task
	logger  *logrus.Logger
	onFail  func(string, error)
	onDrop  func(string)
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New 启动 Workers 个消费协程。
func New(opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := opts.Size
	if size <= 0 {
		size = defaultSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan task, size),
		logger: logger,
		onFail: opts.OnFailure,
		onDrop: opts.OnDrop,
	}
	q.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go q.loop()
	}
	return q
}

// Enqueue 非阻塞地提交任务；队列已满或已关闭时丢弃并返回错误。
func (q *Queue) Enqueue(name string, fn Func) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.pending.Add(1)
	select {
	case q.tasks <- task{name: name, fn: fn}:
		return nil
	default:
		q.pending.Done()
		q.logger.WithField("task", name).Warn("task_dropped")
		if q.onDrop != nil {
			q.onDrop(name)
		}
		return ErrQueueFull
	}
}

// Wait 阻塞直到当前已提交的任务全部执行完毕。
func (q *Queue) Wait() {
	q.pending.Wait()
}

// Close 停止接收新任务，等待已提交任务完成后退出消费协程。
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.workers.Wait()
	q.cancel()
}

func (q *Queue) loop() {
	defer q.workers.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	defer q.pending.Done()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				q.logger.WithFields(logrus.Fields{
					"task":  t.name,
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("task_panic")
				err = fmt.Errorf("task %s panicked: %v", t.name, rec)
			}
		}()
		return t.fn(q.ctx)
	}()
	if err == nil {
		return
	}

	q.logger.WithFields(logrus.Fields{
		"task":  t.name,
		"error": err,
	}).Warn("task_failed")
	if q.onFail != nil {
		q.onFail(t.name, err)
	}
}
