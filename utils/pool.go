package utils

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Task 提交给 Pool 的任务
type Task func()

// Pool 固定数量 worker + 有界队列；队列满时直接拒绝，不阻塞提交方
type Pool struct {
	mu        sync.RWMutex
	queue     chan Task
	wg        sync.WaitGroup
	workers   sync.WaitGroup
	running   atomic.Int32 // 存活的 worker 数
	accepting bool
	closed    bool
	logger    *slog.Logger
}

func NewPool(maxWorkers, queueSize int, logger *slog.Logger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		queue:     make(chan Task, queueSize),
		accepting: true,
		logger:    logger,
	}

	p.workers.Add(maxWorkers)
	p.running.Add(int32(maxWorkers))
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit 入队成功返回 true；池已关闭或队列满返回 false
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return false
	}

	// 先 Add 再入队，避免与 Shutdown 竞争
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		p.logger.Warn("worker pool queue full, task rejected")
		return false
	}
}

// Shutdown 停止接收新任务，等待已入队的任务完成或 ctx 到期；排空后还会等所有 worker 退出
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drained := true
	select {
	case <-done:
	case <-ctx.Done():
		drained = false
		p.logger.Warn("worker pool drain timed out")
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	// 超时时可能有任务卡住，不等 worker 退出
	if drained {
		p.workers.Wait()
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	defer p.running.Add(-1)
	for task := range p.queue {
		p.runTask(task)
	}
}

func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
