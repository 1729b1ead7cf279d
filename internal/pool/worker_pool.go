package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a bounded set of goroutines.
type WorkerPool struct {
	maxWorkers  int
	taskQueue   chan job
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	mu          sync.RWMutex
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type job struct {
	ctx  context.Context
	task Task
}

// Config configures the pool.
type Config struct {
	MaxWorkers   int           `json:"max_workers"`
	QueueSize    int           `json:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	PanicHandler func(any)     `json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  8,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

// NewWorkerPool creates a new worker pool. Workers are spawned lazily.
func NewWorkerPool(cfg Config) *WorkerPool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &WorkerPool{
		maxWorkers:   cfg.MaxWorkers,
		taskQueue:    make(chan job, cfg.QueueSize),
		idleTimeout:  cfg.IdleTimeout,
		panicHandler: cfg.PanicHandler,
	}
}

// Submit enqueues a task without blocking. It returns ErrPoolFull when the
// queue is saturated and ErrPoolClosed after Close.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	// 读锁保证 Close 关闭队列时没有并发发送
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.taskQueue <- job{ctx: ctx, task: task}:
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *WorkerPool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case j, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) run(j job) {
	if j.ctx.Err() != nil {
		p.dropped.Add(1)
		return
	}

	p.activeCount.Add(1)
	err := p.execute(j)
	p.activeCount.Add(-1)

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

func (p *WorkerPool) execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.task(j.ctx)
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return
	}
	close(p.taskQueue)
	p.mu.Unlock()

	// 队列中仍有任务但没有 worker 时补一个，保证排空
	if len(p.taskQueue) > 0 && p.workerCount.Load() == 0 {
		p.workerCount.Add(1)
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Dropped   int64 `json:"dropped"`
}
