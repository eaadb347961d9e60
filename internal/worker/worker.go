// Package worker 提供有界的后台任务队列，用于缓存写入、命中计数和用量累加等旁路操作
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Task 后台任务
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Pool 固定数量 worker + 有界队列；队列满时丢弃新任务
type Pool struct {
	queue   chan Task
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// Stats 队列统计
type Stats struct {
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

// New 创建并启动 worker 池
func New(queueSize, workers int, taskTimeout time.Duration) *Pool {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Second
	}

	p := &Pool{
		queue:   make(chan Task, queueSize),
		workers: workers,
		timeout: taskTimeout,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Printf("[Worker-Panic] 任务 %s panic: %v", task.Name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := task.Fn(ctx); err != nil {
		p.failed.Add(1)
		log.Printf("[Worker-Task] 任务 %s 失败: %v", task.Name, err)
	}
}

// Submit 提交任务，不阻塞调用方；队列已满或已停止时返回 false
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		log.Printf("[Worker-Submit] 队列已停止，拒绝任务: %s", name)
		return false
	}

	select {
	case p.queue <- Task{Name: name, Fn: fn}:
		p.submitted.Add(1)
		return true
	default:
		n := p.dropped.Add(1)
		log.Printf("[Worker-Drop] 队列已满，丢弃任务: %s (累计丢弃 %d)", name, n)
		return false
	}
}

// Stop 停止接收新任务，执行完已排队任务后返回
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[Worker-Stop] 后台队列已停止 (提交 %d, 丢弃 %d, 失败 %d)",
		p.submitted.Load(), p.dropped.Load(), p.failed.Load())
}

// Stats 返回统计信息
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Queued:    len(p.queue),
	}
}

// Submitter 后台提交接口，便于调用方注入同步实现
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Inline 同步执行任务的 Submitter（测试与 CLI 使用）
type Inline struct{}

// Submit 在当前 goroutine 中以独立 context 执行任务
func (Inline) Submit(name string, fn func(ctx context.Context) error) bool {
	if err := fn(context.Background()); err != nil {
		log.Printf("[Worker-Task] 任务 %s 失败: %v", name, err)
	}
	return true
}
